package chunk

import "encoding/json"

// DataChunk is one fragment of a larger logical payload. RemainLen is the
// number of bytes still pending after this fragment, so the final fragment
// of a transfer always carries RemainLen == 0.
type DataChunk struct {
	RemainLen uint64 `json:"remain_len"`
	Buffer    string `json:"buffer"`
}

// Marshal encodes the chunk as the JSON envelope carried in a GATT
// characteristic value.
func (c DataChunk) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes a JSON wire envelope into a DataChunk.
func Unmarshal(data []byte) (DataChunk, error) {
	var c DataChunk
	if err := json.Unmarshal(data, &c); err != nil {
		return DataChunk{}, err
	}
	return c, nil
}

// Split cuts payload into chunks of at most maxLen bytes with strictly
// decreasing RemainLen. It is used for fan-out publishing, where no cursor
// is kept per receiver. Returns nil for an empty payload or maxLen < 1.
func Split(payload string, maxLen int) []DataChunk {
	if len(payload) == 0 || maxLen < 1 {
		return nil
	}

	chunks := make([]DataChunk, 0, (len(payload)+maxLen-1)/maxLen)
	for start := 0; start < len(payload); start += maxLen {
		end := start + maxLen
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, DataChunk{
			RemainLen: uint64(len(payload) - end),
			Buffer:    payload[start:end],
		})
	}
	return chunks
}
