package durablemap

// logInfo/logWarn funnel structured events through the configured zap logger.
// A core with no logger configured uses zap.NewNop(), so these are always
// safe to call and cost a single nil-interface check in the hot path.
func (c *core) logInfo(msg string, kv ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Sugar().Infow(msg, kv...)
}

func (c *core) logWarn(msg string, kv ...any) {
	if c.logger == nil {
		return
	}
	c.logger.Sugar().Warnw(msg, kv...)
}
