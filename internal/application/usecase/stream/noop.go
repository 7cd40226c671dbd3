package stream

import "time"

type nopMetrics struct{}

func (nopMetrics) SetConnections(int) {}
func (nopMetrics) ObserveCycle(time.Duration) {}
func (nopMetrics) IncTradeClosed(string) {}
func (nopMetrics) AddBridgeFrames(int) {}
func (nopMetrics) IncProtocolErrors() {}
func (nopMetrics) IncDroppedClients() {}
