// 文件: cmd/pricer/main.go
// 欧式期权估值服务入口
//
//	pricer scenarios          打印已验证的估值场景
//	pricer quote  --spot ...  本地比较三种估值方法
//	pricer request --spot ... 通过 NATS 请求远端估值
//	pricer serve  -c pricer.yaml
package main

func main() {
	Execute()
}
