package model

// Task status values. completed, failed and cancelled are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCancelled  = "cancelled"
)

// TaskImage slot status values
const (
	ImagePending = "pending"
	ImageReady   = "ready"
	ImageError   = "error"
)

// Usage - cost accounting reported by the generation API
type Usage struct {
	GeneratedImages int `json:"generated_images"`
	TotalTokens     int `json:"total_tokens"`
}

// Add - accumulate another usage figure
func (u *Usage) Add(other Usage) {
	u.GeneratedImages += other.GeneratedImages
	u.TotalTokens += other.TotalTokens
}

// Task - tasks collection document (background generation path)
type Task struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Status   string `json:"status"`

	// original request
	Prompt             string   `json:"prompt"`
	Mode               string   `json:"mode"`
	Size               string   `json:"size"`
	Strength           *float64 `json:"strength,omitempty"`
	ExpectedCount      int      `json:"expectedCount"`
	ReferenceImageURLs []string `json:"referenceImageUrls,omitempty"`

	Images      []TaskImage `json:"images"`
	CreatedAt   int64       `json:"createdAt"`
	UpdatedAt   int64       `json:"updatedAt,omitempty"`
	CompletedAt int64       `json:"completedAt,omitempty"`
	Error       string      `json:"error,omitempty"`
	Usage       *Usage      `json:"usage,omitempty"`

	// worker claim bookkeeping
	WorkerID      string `json:"workerId,omitempty"`
	StartedAt     int64  `json:"startedAt,omitempty"`
	LastHeartbeat int64  `json:"lastHeartbeat,omitempty"`

	// retry bookkeeping
	RetryCount int `json:"retryCount"`
	MaxRetries int `json:"maxRetries"`
}

// IsTerminal - true once the task can no longer change state
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskImage - one of the expectedCount slots of a task
type TaskImage struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	StorageURL  string `json:"storageUrl,omitempty"`
	Size        string `json:"size"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	ProcessedAt int64  `json:"processedAt,omitempty"`
}

// GalleryImage - images table row shown in the shared gallery
type GalleryImage struct {
	ID          string `json:"id,omitempty"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	Prompt      string `json:"prompt"`
	ImageURL    string `json:"image_url"`    // permanent storage URL
	OriginalURL string `json:"original_url"` // temporary upstream URL (24h)
	Size        string `json:"size"`
	Mode        string `json:"mode"`
	Liked       bool   `json:"liked"`
	Deleted     bool   `json:"deleted"`
	CreatedAt   string `json:"created_at,omitempty"`
}
