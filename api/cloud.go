package api

// Compute describes a compute engine provisioned in the account.
type Compute struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Size      string `json:"size"`
	Region    string `json:"region"`
	State     string `json:"state"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedOn string `json:"created_on,omitempty"`
}

// ListComputesResponse is the body of GET /compute.
type ListComputesResponse struct {
	Computes []Compute `json:"computes"`
}

// CreateComputeRequest is the body of PUT /compute.
type CreateComputeRequest struct {
	Name   string `json:"name"`
	Size   string `json:"size"`
	Region string `json:"region"`
	DryRun bool   `json:"dryrun"`
}

// CreateComputeResponse is the body returned by PUT /compute.
type CreateComputeResponse struct {
	Compute Compute `json:"compute"`
}

// DeleteComputeRequest is the body of DELETE /compute.
type DeleteComputeRequest struct {
	Name   string `json:"name"`
	DryRun bool   `json:"dryrun"`
}

// DeleteComputeResponse is the body returned by DELETE /compute.
type DeleteComputeResponse struct {
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// ComputeEvent is one lifecycle event of a compute.
type ComputeEvent struct {
	ComputeID string `json:"compute_id"`
	Event     string `json:"event"`
	CreatedOn string `json:"created_on"`
}

// ListComputeEventsResponse is the body of GET /compute/{id}/events.
type ListComputeEventsResponse struct {
	Events []ComputeEvent `json:"events"`
}

// Database describes one database in the account.
type Database struct {
	Name               string `json:"name"`
	Region             string `json:"region,omitempty"`
	State              string `json:"state"`
	DefaultComputeName string `json:"default_compute_name,omitempty"`
	Version            int64  `json:"version"`
}

// ListDatabasesResponse is the body of GET /database.
type ListDatabasesResponse struct {
	Databases []Database `json:"databases"`
}

// UpdateDatabaseRequest is the body of POST /database.
type UpdateDatabaseRequest struct {
	Name                 string `json:"name"`
	DefaultComputeName   string `json:"default_compute_name,omitempty"`
	RemoveDefaultCompute bool   `json:"remove_default_compute"`
	DryRun               bool   `json:"dryrun"`
}

// UpdateDatabaseResponse is the body returned by POST /database.
type UpdateDatabaseResponse struct {
	Database Database `json:"database"`
}
