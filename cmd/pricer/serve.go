package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pricer.com/pkg/cache"
	"pricer.com/pkg/config"
	"pricer.com/pkg/kafka"
	"pricer.com/pkg/nats"
	"pricer.com/pkg/recorder"
	"pricer.com/pkg/store"
	"pricer.com/pkg/valuation"
	"pricer.com/pkg/worker"
)

func newServeCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve valuation requests from NATS",
		PreRun: func(cmd *cobra.Command, args []string) {
			log.Println("[Pricer] starting")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			svc, err := newService(cfg)
			if err != nil {
				return err
			}
			if err := svc.start(); err != nil {
				svc.stop()
				return err
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh

			log.Println("[Pricer] shutting down")
			svc.stop()
			return nil
		},
		PostRun: func(cmd *cobra.Command, args []string) {
			log.Println("[Pricer] stopped")
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "config file (default $PRICER_CONFIG or ./pricer.yaml)")
	return cmd
}

// =============================================================================
// service 组装各组件
// =============================================================================

type service struct {
	publisher *nats.Publisher
	producer  *kafka.Producer
	quotes    *cache.QuoteCache
	worker    *worker.Worker
	recorder  *recorder.Recorder
}

func newService(cfg *config.Config) (*service, error) {
	if err := valuation.InitIDGenerator(cfg.NodeID); err != nil {
		return nil, err
	}

	engineCfg, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	engine, err := valuation.NewEngine(engineCfg)
	if err != nil {
		return nil, err
	}

	s := &service{}
	var valuer valuation.Valuer = engine

	if cfg.Redis.Enabled {
		s.quotes = cache.NewQuoteCache(cfg.Redis.Addr, cfg.Redis.TTL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := s.quotes.Ping(ctx)
		cancel()
		if err != nil {
			s.stop()
			return nil, fmt.Errorf("redis %s: %w", cfg.Redis.Addr, err)
		}
		valuer = cache.NewCachedValuer(engine, s.quotes)
	}

	s.publisher, err = nats.NewPublisher(cfg.NATS.URL)
	if err != nil {
		s.stop()
		return nil, err
	}

	var sender kafka.Sender
	if cfg.Kafka.Enabled {
		s.producer, err = kafka.NewProducer(kafka.DefaultProducerConfig(cfg.Kafka.Brokers))
		if err != nil {
			s.stop()
			return nil, err
		}
		sender = s.producer
	}

	if cfg.MySQL.Enabled {
		db, err := store.OpenMySQL(cfg.MySQL.DSN)
		if err != nil {
			s.stop()
			return nil, err
		}
		s.recorder, err = recorder.New(cfg.Recorder(), store.NewMySQLRepository(db))
		if err != nil {
			s.stop()
			return nil, err
		}
	}

	s.worker = worker.New(cfg.Worker(), valuer, s.publisher, sender)
	return s, nil
}

func (s *service) start() error {
	if s.recorder != nil {
		s.recorder.Start()
	}
	return s.worker.Start()
}

// stop 按依赖的反方向关闭：先停入口，再停报告流和落库
func (s *service) stop() {
	if s.worker != nil {
		if err := s.worker.Stop(); err != nil {
			log.Printf("[Pricer] worker stop error: %v", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			log.Printf("[Pricer] kafka producer close error: %v", err)
		}
	}
	if s.recorder != nil {
		if err := s.recorder.Stop(); err != nil {
			log.Printf("[Pricer] recorder stop error: %v", err)
		}
	}
	if s.publisher != nil {
		s.publisher.Close()
	}
	if s.quotes != nil {
		_ = s.quotes.Close()
	}
}
