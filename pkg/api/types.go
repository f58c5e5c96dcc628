package api

// AccessResponse is the JSON body of an access-check reply
type AccessResponse struct {
	OK            bool   `json:"ok"`
	Plan          string `json:"plan,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message,omitempty"`
	Redirect      string `json:"redirect,omitempty"`
	RemainingUses *int   `json:"remaining_uses,omitempty"`
	ToolURL       string `json:"tool_url,omitempty"`
}

// SyncResponse is the JSON body of a successful admin sync
type SyncResponse struct {
	OK                   bool `json:"ok"`
	SyncedCustomers      int  `json:"synced_customers"`
	UpdatedSubscriptions int  `json:"updated_subscriptions"`
}

// ErrorResponse is the JSON body of an admin sync failure or rejection
type ErrorResponse struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the JSON body of the health endpoint
type HealthResponse struct {
	Status string `json:"status"`
	Shop   string `json:"shop,omitempty"`
}
