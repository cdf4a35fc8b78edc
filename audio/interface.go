// audio/interface.go
package audio

import "context"

// Controller 半双工收发控制：发送时不解码自己的信号
type Controller interface {
	StartSending() bool
	StopSending()
	StartReceiving() bool
	StopReceiving()
	IsSending() bool
	IsReceiving() bool
}

// Feeder receives every captured chunk, in order, on the capture goroutine.
// The slice is reused after Feed returns.
type Feeder interface {
	Feed(samples []int16)
}

// FeederFunc adapts a plain function to Feeder.
type FeederFunc func(samples []int16)

func (f FeederFunc) Feed(samples []int16) { f(samples) }

// PlaybackListener is called from the writer goroutine or from the device
// notification goroutine, never from the goroutine that called Start.
type PlaybackListener interface {
	OnProgress(millis int)
	OnCompletion()
	OnError(err error)
}

// ErrorHandler is told about fatal mid-stream capture errors.
type ErrorHandler func(err error)

// Format describes a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DeviceParams 打开设备的参数
type DeviceParams struct {
	Format      Format
	BufferBytes int
}

// InputDevice is an acquired, started capture stream.
type InputDevice interface {
	// Read blocks until at least one sample is available and returns how
	// many samples were stored in buf.
	Read(buf []int16) (int, error)
	// Release stops and frees the stream. Callers invoke it at most once.
	Release() error
}

// OutputDevice is an acquired, started playback stream.
type OutputDevice interface {
	// Write blocks until the device accepted at least part of buf.
	Write(buf []int16) (int, error)
	// SetPositionNotification fires fn every periodFrames played frames.
	SetPositionNotification(periodFrames int, fn func())
	// SetMarker fires fn once when the play head reaches frame.
	SetMarker(frame int64, fn func())
	// Position is the number of frames the hardware has played.
	Position() int64
	Playing() bool
	Release() error
}

// Backend acquires device handles.
type Backend interface {
	Name() string
	OpenInput(ctx context.Context, p DeviceParams) (InputDevice, error)
	OpenOutput(ctx context.Context, p DeviceParams) (OutputDevice, error)
	Close() error
}
