package constants

// SinkType names a destination for decoded op records.
type SinkType string

const (
	SinkRedis     SinkType = "redis"     // capped Redis list
	SinkMySQL     SinkType = "mysql"     // synchronous MySQL insert
	SinkQueue     SinkType = "queue"     // asynq task, persisted to MySQL by the worker
	SinkWebSocket SinkType = "websocket" // live stream to connected clients
)

func (s SinkType) String() string {
	return string(s)
}
