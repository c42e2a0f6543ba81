package model

type QueueSnapshot struct {
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Message string    `json:"message,omitempty"`
	Result  []Command `json:"result"`
}

type TransactionSnapshot struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Data    []Transaction  `json:"data"`
	Meta    map[string]int `json:"meta,omitempty"`
}

type Transaction struct {
	ID                    int64   `json:"id"`
	TransactionID         string  `json:"transactionId"`
	ExternalTransactionID string  `json:"externalTransactionId"`
	Price                 float64 `json:"price"`
	PackageName           string  `json:"packageName"`
	InGameName            string  `json:"inGameName"`
	UUID                  string  `json:"uuid"`
	Email                 string  `json:"email"`
	Notes                 string  `json:"notes"`
	Gateway               string  `json:"gateway"`
	Status                string  `json:"status"`
	Timestamp             int64   `json:"timestamp"`
}
