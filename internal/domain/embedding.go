package domain

// EmbeddingRequest asks for embedding vectors for one or more inputs.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
	// Dimensions truncates the output vectors when the model supports it.
	Dimensions int `json:"dimensions,omitempty"`
}

// Embedding is one vector of an EmbeddingResponse, in input order.
type Embedding struct {
	Index  int       `json:"index"`
	Vector []float32 `json:"vector"`
}

// EmbeddingResponse carries the vectors for an EmbeddingRequest.
type EmbeddingResponse struct {
	Model string      `json:"model"`
	Data  []Embedding `json:"data"`
	Usage Usage       `json:"usage"`
}
