package port

import "time"

// Metrics is what the stream loop reports about itself.
type Metrics interface {
	SetConnections(n int)
	ObserveCycle(d time.Duration)
	IncTradeClosed(reason string)
	AddBridgeFrames(n int)
	IncProtocolErrors()
	IncDroppedClients()
}
