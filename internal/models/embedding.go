package models

// Page is the text extracted from one page, slide or sheet of a document
type Page struct {
	Number  int
	Content string
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string
	PageNumber int
	ChunkID    int
}

// ChunkEmbedding is a chunk ready to be written to a vector store
type ChunkEmbedding struct {
	Content    string
	Embedding  []float32
	Source     string
	PageNumber int
	ChunkID    int
}

// SearchResult is a chunk returned by a similarity search
type SearchResult struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	PageNumber int     `json:"page_number"`
	ChunkID    int     `json:"chunk_id"`
	Similarity float32 `json:"similarity"`
}

// ChatMessage is one turn of a widget conversation
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
