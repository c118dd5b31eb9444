package protocol

// SampleSource yields decoded samples one frame at a time.
type SampleSource interface {
	Next() (DecodedSample, error)
}

// Reader combines ReadFrame and Decode over a byte stream.
type Reader struct {
	r ByteReader
}

// NewReader returns a Reader over r.
func NewReader(r ByteReader) *Reader {
	return &Reader{r: r}
}

// Next reads and decodes the next frame. Errors follow ReadFrame and Decode.
func (r *Reader) Next() (DecodedSample, error) {
	f, err := ReadFrame(r.r)
	if err != nil {
		return DecodedSample{}, err
	}
	return Decode(f)
}
