package internal

import "strings"

type JobStatus string

const (
	JobExists        JobStatus = "exists"
	JobNotExists     JobStatus = "not_exists"
	JobCatchAll      JobStatus = "catchall"
	JobInvalidSyntax JobStatus = "invalid_syntax"
	JobUnknown       JobStatus = "unknown"

	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobStarted    JobStatus = "started"
	JobQueued     JobStatus = "queued"
)

type FileStatus string

const (
	FileDownload FileStatus = "download"
	FilePending  FileStatus = "pending"
)

// Job is one email address's verification outcome within a task.
type Job struct {
	Email  string    `json:"emailAddress"`
	Status JobStatus `json:"status"`
}

type TaskDetail struct {
	ID        string `json:"id"`
	CreatedAt string `json:"createdAt"`
	Jobs      []Job  `json:"jobs"`
}

type TaskRef struct {
	TaskID string `json:"taskId"`
}

// UploadAck is the backend's per-file acknowledgement of an upload.
type UploadAck struct {
	Filename string  `json:"filename"`
	TaskID   *string `json:"taskId,omitempty"`
	UploadID *string `json:"uploadId,omitempty"`
}

// HasTaskID reports whether the ack carries a usable task id.
func (a UploadAck) HasTaskID() bool {
	return a.TaskID != nil && strings.TrimSpace(*a.TaskID) != ""
}

type UploadLink struct {
	FileName string  `json:"fileName"`
	TaskID   *string `json:"taskId"`
}

type UploadedFile struct {
	Name    string
	Size    int64
	Content []byte
}

// FileMeta carries the user's column mapping for one uploaded file.
type FileMeta struct {
	EmailColumn string `json:"emailColumn"`
	HasHeader   bool   `json:"hasHeader"`
}

type ColumnInfo struct {
	FileName    string   `json:"fileName"`
	Headers     []string `json:"headers"`
	ColumnCount int      `json:"columnCount"`
}

type ColumnOption struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

type JobCounts struct {
	Total    int `json:"total"`
	Valid    int `json:"valid"`
	Invalid  int `json:"invalid"`
	CatchAll int `json:"catchAll"`
}

// FileSummary is one derived row of an upload summary. Nil counts mean the
// task detail is not available yet, which is distinct from zero.
type FileSummary struct {
	FileName    string     `json:"fileName"`
	TotalEmails *int       `json:"totalEmails"`
	Valid       *int       `json:"valid"`
	Invalid     *int       `json:"invalid"`
	CatchAll    *int       `json:"catchAll"`
	Status      FileStatus `json:"status"`
	TaskID      *string    `json:"taskId"`
}

type UploadSummary struct {
	Files       []FileSummary `json:"files"`
	TotalEmails *int          `json:"totalEmails"`
	Valid       *int          `json:"valid"`
	Invalid     *int          `json:"invalid"`
	CatchAll    *int          `json:"catchAll"`
	HasTotals   bool          `json:"hasTotals"`
}

type BatchFile struct {
	Position    int     `json:"position"`
	FileName    string  `json:"fileName"`
	Size        int64   `json:"size"`
	TaskID      *string `json:"taskId"`
	EmailColumn string  `json:"emailColumn"`
	HasHeader   bool    `json:"hasHeader"`
}

// UploadBatch is one multi-file submission as persisted locally.
type UploadBatch struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	CreatedAt string      `json:"createdAt"`
	Files     []BatchFile `json:"files"`
	Unmatched int         `json:"unmatched"`
	Orphaned  []UploadAck `json:"orphaned,omitempty"`
}

func (b UploadBatch) FileNames() []string {
	out := make([]string, 0, len(b.Files))
	for _, f := range b.Files {
		out = append(out, f.FileName)
	}
	return out
}

func (b UploadBatch) Links() []UploadLink {
	out := make([]UploadLink, 0, len(b.Files))
	for _, f := range b.Files {
		out = append(out, UploadLink{FileName: f.FileName, TaskID: f.TaskID})
	}
	return out
}

type TaskSnapshot struct {
	TaskID    string     `json:"taskId"`
	Status    FileStatus `json:"status"`
	Total     int        `json:"total"`
	Valid     int        `json:"valid"`
	Invalid   int        `json:"invalid"`
	CatchAll  int        `json:"catchAll"`
	FetchedAt string     `json:"fetchedAt"`
}

type Credits struct {
	Balance int64 `json:"balance"`
	Used    int64 `json:"used"`
}

type UsagePoint struct {
	Date     string `json:"date"`
	Verified int64  `json:"verified"`
	Valid    int64  `json:"valid"`
	Invalid  int64  `json:"invalid"`
	CatchAll int64  `json:"catchAll"`
}

type HistoryEntry struct {
	TaskID    string `json:"taskId"`
	CreatedAt string `json:"createdAt"`
	Source    string `json:"source"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

type HistoryPage struct {
	Entries  []HistoryEntry `json:"entries"`
	NextPage *int           `json:"nextPage"`
}

type Purchase struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"createdAt"`
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	Credits     int64  `json:"credits"`
	Status      string `json:"status"`
}

type APIKey struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Prefix     string  `json:"prefix"`
	CreatedAt  string  `json:"createdAt"`
	LastUsedAt *string `json:"lastUsedAt"`
	Secret     string  `json:"secret,omitempty"`
}

type Profile struct {
	UserID  string `json:"userId"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}
