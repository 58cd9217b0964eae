package models

// Chunk is a retrievable passage of a document
type Chunk struct {
	ID            string  `json:"id" db:"id"`
	DocumentID    string  `json:"document_id" db:"document_id"`
	Content       string  `json:"content" db:"content"`
	DocumentTitle string  `json:"document_title" db:"document_title"`
	SourceURL     *string `json:"source_url,omitempty" db:"source_url"`
}

// TableName returns the table name for the Chunk model
func (Chunk) TableName() string {
	return "chunks"
}
