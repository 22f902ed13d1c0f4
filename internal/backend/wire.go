package backend

import (
	"encoding/json"

	"mailcheck/internal"
)

// The backend speaks snake_case. Responses are decoded into these shapes and
// converted, so the internal types only carry the dashboard's JSON names.

type wireJob struct {
	EmailAddress string
	Status       string
}

// UnmarshalJSON accepts both the flat job shape and the one nested under "email".
func (j *wireJob) UnmarshalJSON(data []byte) error {
	var raw struct {
		EmailAddress *string `json:"email_address"`
		Status       *string `json:"status"`
		Email        *struct {
			EmailAddress *string `json:"email_address"`
			Status       *string `json:"status"`
		} `json:"email"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*j = wireJob{}
	if raw.EmailAddress != nil {
		j.EmailAddress = *raw.EmailAddress
	} else if raw.Email != nil && raw.Email.EmailAddress != nil {
		j.EmailAddress = *raw.Email.EmailAddress
	}
	if raw.Status != nil {
		j.Status = *raw.Status
	} else if raw.Email != nil && raw.Email.Status != nil {
		j.Status = *raw.Email.Status
	}
	return nil
}

type wireTaskDetail struct {
	ID        string    `json:"id"`
	CreatedAt string    `json:"created_at"`
	Jobs      []wireJob `json:"jobs"`
}

func (w wireTaskDetail) toInternal() *internal.TaskDetail {
	detail := &internal.TaskDetail{ID: w.ID, CreatedAt: w.CreatedAt, Jobs: make([]internal.Job, 0, len(w.Jobs))}
	for _, j := range w.Jobs {
		detail.Jobs = append(detail.Jobs, internal.Job{Email: j.EmailAddress, Status: internal.JobStatus(j.Status)})
	}
	return detail
}

type wireTaskRef struct {
	TaskID string `json:"task_id"`
}

type wireUploadAck struct {
	Filename string  `json:"filename"`
	TaskID   *string `json:"task_id"`
	UploadID *string `json:"upload_id"`
}

func acksToInternal(in []wireUploadAck) []internal.UploadAck {
	out := make([]internal.UploadAck, 0, len(in))
	for _, a := range in {
		out = append(out, internal.UploadAck{Filename: a.Filename, TaskID: a.TaskID, UploadID: a.UploadID})
	}
	return out
}

type wireUsagePoint struct {
	Date     string `json:"date"`
	Verified int64  `json:"verified"`
	Valid    int64  `json:"valid"`
	Invalid  int64  `json:"invalid"`
	CatchAll int64  `json:"catch_all"`
}

type wireHistoryEntry struct {
	TaskID    string `json:"task_id"`
	CreatedAt string `json:"created_at"`
	Source    string `json:"source"`
	Total     int    `json:"total"`
	Status    string `json:"status"`
}

type wireHistoryPage struct {
	Tasks    []wireHistoryEntry `json:"tasks"`
	NextPage *int               `json:"next_page"`
}

func (w wireHistoryPage) toInternal() internal.HistoryPage {
	page := internal.HistoryPage{NextPage: w.NextPage, Entries: make([]internal.HistoryEntry, 0, len(w.Tasks))}
	for _, e := range w.Tasks {
		page.Entries = append(page.Entries, internal.HistoryEntry(e))
	}
	return page
}

type wirePurchase struct {
	ID          string `json:"id"`
	CreatedAt   string `json:"created_at"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Credits     int64  `json:"credits"`
	Status      string `json:"status"`
}

type wireAPIKey struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Prefix     string  `json:"prefix"`
	CreatedAt  string  `json:"created_at"`
	LastUsedAt *string `json:"last_used_at"`
	Secret     string  `json:"secret,omitempty"`
}

type wireProfile struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}
