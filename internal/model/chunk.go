package model

// Chunk is one delivery unit of raw bytes for a named stream.
// Chunks of one stream arrive in order but are not record-aligned.
type Chunk struct {
	StreamName string `json:"stream_name"`
	Tag        string `json:"tag,omitempty"`
	Data       []byte `json:"-"`
	Control    bool   `json:"control,omitempty"` // control chunk, e.g. end_info
}

// Size returns the payload length.
func (c *Chunk) Size() int {
	return len(c.Data)
}

// Marker returns the string used for stream classification: the tag when set, the stream name otherwise.
func (c *Chunk) Marker() string {
	if c.Tag != "" {
		return c.Tag + "|" + c.StreamName
	}
	return c.StreamName
}
