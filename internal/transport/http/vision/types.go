package vision

// AnalyzeErrorData 表示分析失败时 data 字段中的结构
type AnalyzeErrorData struct {
	RequestID string `json:"request_id,omitempty"`
	Kind      string `json:"kind"`
	Error     string `json:"error"`
}
