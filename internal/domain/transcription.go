package domain

import "io"

// TranscriptionRequest asks for a text transcript of an audio file.
// Audio is consumed once; Filename is sent as the multipart file name so
// the server can infer the container format.
type TranscriptionRequest struct {
	Model    string
	Audio    io.Reader
	Filename string
	// Language is an optional ISO-639-1 hint, e.g. "en".
	Language string
	// Prompt optionally guides the model's style or spells out unusual terms.
	Prompt string
}

// TranscriptionResponse carries the transcript text.
type TranscriptionResponse struct {
	Text string `json:"text"`
}
