package rp

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Success is the result of a completed generation job.
type Success struct {
	// ImageURL is set when the image was uploaded.
	ImageURL string
	// Image is the base64 image body when the output is inline.
	Image       string
	DataURL     string
	ContentType string
	Key         string
	Cost        float64
	Seed        uint64
}

// JobOutput is the wire shape posted back to the serverless platform.
type JobOutput struct {
	Status        string   `json:"status"`
	Message       string   `json:"message"`
	ImageURL      string   `json:"image_url,omitempty"`
	Image         string   `json:"image,omitempty"`
	DataURL       string   `json:"data_url,omitempty"`
	ContentType   string   `json:"content_type,omitempty"`
	Cost          *float64 `json:"cost,omitempty"`
	Seed          *uint64  `json:"seed,omitempty"`
	ErrorType     string   `json:"error_type,omitempty"`
	RefreshWorker bool     `json:"refresh_worker,omitempty"`
}

func (o JobOutput) OK() bool {
	return o.Status == StatusSuccess
}

// JobStatus is the local API's view of a job, shaped like the platform's /status response.
type JobStatus struct {
	ID     string     `json:"id"`
	Status string     `json:"status"`
	Output *JobOutput `json:"output,omitempty"`
}

const (
	JobInQueue    = "IN_QUEUE"
	JobInProgress = "IN_PROGRESS"
	JobCompleted  = "COMPLETED"
)

type PresignedURLV1 struct {
	URL string `json:"url"`
}
