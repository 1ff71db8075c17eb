package task

import "context"

// Handler 处理一个出队的任务 ID。返回错误时，支持重投的队列会把任务放回。
type Handler func(ctx context.Context, taskID string) error

// Producer 把已持久化的任务 ID 投递给工作协程。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个协程并发调用 handler，直到 ctx 结束。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 是 Service 与 Processor 共用的任务通道。
type Queue interface {
	Producer
	Consumer
}

var (
	_ Queue = (*MemoryQueue)(nil)
	_ Queue = (*RedisQueue)(nil)
	_ Queue = (*RabbitMQQueue)(nil)
)
