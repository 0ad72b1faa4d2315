package apns

import (
	"crypto/rand"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"
)

// processFrame dispatches one decoded frame from the read loop. Events for
// streams the registry no longer tracks (already responded, timed out, or
// never ours) are dropped without complaint; the gateway is free to keep
// talking about a stream we have given up on.
func (c *Conn) processFrame(frame http2.Frame) {
	switch f := frame.(type) {
	case *http2.MetaHeadersFrame:
		c.registry.mergeHeaders(f.StreamID, f.Fields)
		if f.StreamEnded() {
			c.completeStream(f.StreamID, nil)
		}
	case *http2.DataFrame:
		c.registry.appendData(f.StreamID, f.Data())
		c.replenishRecvWindow(f.Header().Length)
		if f.StreamEnded() {
			c.completeStream(f.StreamID, nil)
		}
	case *http2.RSTStreamFrame:
		c.completeStream(f.StreamID, fmt.Errorf("apns: stream reset by gateway: %v", f.ErrCode))
	case *http2.SettingsFrame:
		c.applySettings(f)
	case *http2.PingFrame:
		c.handlePing(f)
	case *http2.GoAwayFrame:
		c.transportFailed(fmt.Errorf("apns: gateway sent GOAWAY: %v", f.ErrCode))
	case *http2.WindowUpdateFrame:
		// Send-side flow control is not tracked; notification bodies are
		// capped far below the initial windows.
	default:
		c.logger.Debug("ignoring frame", zap.Stringer("type", f.Header().Type))
	}
}

// completeStream claims the stream's record and fires its response
// callback. A nil return from claim means the sweeper got there first.
func (c *Conn) completeStream(id uint32, streamErr error) {
	rec := c.registry.claim(id)
	if rec == nil {
		return
	}
	resp := buildResponse(rec.headers, rec.body, streamErr)
	c.logger.Debug("stream closed",
		zap.Uint32("stream", id),
		zap.Int("status", resp.StatusCode))
	rec.cb.OnResponse(resp)
}

func (c *Conn) applySettings(f *http2.SettingsFrame) {
	if f.IsAck() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.dead {
		return
	}
	_ = f.ForeachSetting(func(s http2.Setting) error {
		switch s.ID {
		case http2.SettingMaxFrameSize:
			c.maxFrameSize = s.Val
		case http2.SettingHeaderTableSize:
			c.henc.SetMaxDynamicTableSize(s.Val)
		}
		return nil
	})
	if err := c.framer.WriteSettingsAck(); err != nil {
		c.logger.Warn("settings ack failed", zap.Error(err))
	}
}

func (c *Conn) handlePing(f *http2.PingFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.dead {
		return
	}
	if f.IsAck() {
		if ch, ok := c.pingAcks[f.Data]; ok {
			close(ch)
			delete(c.pingAcks, f.Data)
		}
		return
	}
	if err := c.framer.WritePing(true, f.Data); err != nil {
		c.logger.Warn("ping ack failed", zap.Error(err))
	}
}

// replenishRecvWindow tops the connection-level receive window back up
// once the gateway has consumed half of it. Error response bodies are tiny,
// so this fires rarely, but a starved window would wedge the connection.
func (c *Conn) replenishRecvWindow(consumed uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.opened || c.dead {
		return
	}
	c.recvWindow -= int32(consumed)
	if c.recvWindow >= initialWindowSize/2 {
		return
	}
	if err := c.framer.WriteWindowUpdate(0, uint32(initialWindowSize-c.recvWindow)); err != nil {
		c.logger.Warn("window update failed", zap.Error(err))
		return
	}
	c.recvWindow = initialWindowSize
}

// pingLoop probes connection liveness while idle. A missed ack within
// PingTimeout is treated the same as any other transport failure.
func (c *Conn) pingLoop(stopc <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stopc:
			return
		case <-ticker.C:
			if !c.pingOnce(stopc) {
				return
			}
		}
	}
}

func (c *Conn) pingOnce(stopc <-chan struct{}) bool {
	var data [8]byte
	if _, err := rand.Read(data[:]); err != nil {
		return true
	}
	ack := make(chan struct{})

	c.mu.Lock()
	if !c.opened || c.dead {
		c.mu.Unlock()
		return false
	}
	c.pingAcks[data] = ack
	err := c.framer.WritePing(false, data)
	c.mu.Unlock()
	if err != nil {
		return false
	}

	timer := time.NewTimer(c.cfg.PingTimeout)
	defer timer.Stop()
	select {
	case <-ack:
		return true
	case <-stopc:
		return false
	case <-timer.C:
		c.transportFailed(fmt.Errorf("apns: ping not acknowledged within %s", c.cfg.PingTimeout))
		return false
	}
}
