// Package v1 is the wire contract of the text-to-video inference endpoint.
package v1

// RenderRequest is POSTed as JSON with a bearer token.
type RenderRequest struct {
	Prompt            string  `json:"prompt"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	Duration          float64 `json:"duration"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	CFGScale          float64 `json:"cfg_scale"`
	Seed              int64   `json:"seed"`
}

// RenderResponse carries the video either by reference or inline.
// VideoURL may be an http(s) URL or a data: URI; Video is base64.
type RenderResponse struct {
	VideoURL string `json:"video_url,omitempty"`
	Video    string `json:"video,omitempty"`
}

// HasOutput reports whether either output field is set.
func (r RenderResponse) HasOutput() bool {
	return r.VideoURL != "" || r.Video != ""
}
