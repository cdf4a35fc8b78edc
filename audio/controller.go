// audio/controller.go
package audio

import "sync"

// controller 实现半双工控制逻辑
type controller struct {
	mu          sync.Mutex
	isSending   bool
	isReceiving bool
	halfDuplex  bool
}

// NewController 创建新的控制器实例。halfDuplex 为 false 时收发互不影响
func NewController(halfDuplex bool) Controller {
	return &controller{halfDuplex: halfDuplex}
}

func (c *controller) StartSending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSending = true
	return true
}

func (c *controller) StopSending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isSending = false
}

// StartReceiving reports whether captured audio should reach the decoder.
func (c *controller) StartReceiving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.halfDuplex && c.isSending {
		c.isReceiving = false
		return false
	}

	c.isReceiving = true
	return true
}

func (c *controller) StopReceiving() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isReceiving = false
}

func (c *controller) IsSending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSending
}

func (c *controller) IsReceiving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isReceiving
}
