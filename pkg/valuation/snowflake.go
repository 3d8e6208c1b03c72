// 文件: pkg/valuation/snowflake.go
// 估值批次 ID 生成器
// 使用开源库: github.com/bwmarrin/snowflake

package valuation

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	idNode   *snowflake.Node
	initOnce sync.Once
	initErr  error
)

// InitIDGenerator 初始化雪花算法
// nodeID: 节点ID (0-1023)，多实例部署时每个 worker 使用不同的值
// 只有第一次调用生效；nodeID 越界时返回错误并退回节点 0
func InitIDGenerator(nodeID int64) error {
	initOnce.Do(func() {
		idNode, initErr = snowflake.NewNode(nodeID)
		if initErr != nil {
			idNode, _ = snowflake.NewNode(0)
		}
	})
	return initErr
}

// NextRunID 生成估值批次 ID
func NextRunID() int64 {
	// 未初始化则使用默认节点0
	_ = InitIDGenerator(0)
	return idNode.Generate().Int64()
}
