package modem

// envelope is every JSON text frame exchanged with the modem server.
//
//	client -> server  {"type":"hello","version":1,"audio_params":{...}}
//	client -> server  {"type":"encode","id":"3","text":"hi"}
//	server -> client  {"type":"waveform","id":"3","state":"start","samples":48000}
//	server -> client  binary audio frames
//	server -> client  {"type":"waveform","id":"3","state":"end"}
//	client -> server  binary captured chunks
//	server -> client  {"type":"received","data":"aGk="}
//	server -> client  {"type":"error","id":"3","message":"..."}
type envelope struct {
	Type        string       `json:"type"`
	Version     int          `json:"version,omitempty"`
	Transport   string       `json:"transport,omitempty"`
	AudioParams *audioParams `json:"audio_params,omitempty"`
	SessionID   string       `json:"session_id,omitempty"`
	ID          string       `json:"id,omitempty"`
	Text        string       `json:"text,omitempty"`
	State       string       `json:"state,omitempty"`
	Samples     int          `json:"samples,omitempty"`
	Data        []byte       `json:"data,omitempty"`
	Message     string       `json:"message,omitempty"`
}

type audioParams struct {
	Format     AudioFormat `json:"format"`
	SampleRate int         `json:"sample_rate"`
	Channels   int         `json:"channels"`
	ChunkSize  int         `json:"chunk_samples,omitempty"`
}

const (
	typeHello    = "hello"
	typeEncode   = "encode"
	typeWaveform = "waveform"
	typeReceived = "received"
	typeError    = "error"

	stateStart = "start"
	stateEnd   = "end"
)
