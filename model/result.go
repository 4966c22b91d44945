package model

// UpscaleResult 超分结果元数据
type UpscaleResult struct {
	MD5          string  `json:"md5"`
	SourceWidth  int     `json:"source_width"`
	SourceHeight int     `json:"source_height"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Scale        int     `json:"scale"`
	Outscale     float64 `json:"outscale,omitempty"`
	ColorMode    string  `json:"color_mode"` // L, RGB, RGBA
	AlphaMode    string  `json:"alpha_mode,omitempty"`
	OutputPath   string  `json:"output_path"`
	ElapsedMs    int64   `json:"elapsed_ms"`
	Timestamp    int64   `json:"timestamp"`
}

// UpscaleResponse 处理响应
type UpscaleResponse struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    *UpscaleResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
