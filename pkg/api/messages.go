package api

// Amounts travel as decimal strings ("1500.50") and never as JSON numbers.

// Group is a savings group.
type Group struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	Slug                string `json:"slug"`
	ContributionAmount  string `json:"contributionAmount"`
	Currency            string `json:"currency"`
	Frequency           string `json:"frequency"`
	MaxMembers          int    `json:"maxMembers"`
	Type                string `json:"type"`
	CurrentCycle        int    `json:"currentCycle"`
	TotalCycles         int    `json:"totalCycles"`
	Status              string `json:"status"`
	RequiresPrepayment  bool   `json:"requiresPrepayment"`
	RequiresFullFunding bool   `json:"requiresFullFunding"`
	CreatedBy           string `json:"createdBy"`
	CreatedAt           int64  `json:"createdAt"`
	UpdatedAt           int64  `json:"updatedAt"`
}

// Membership seats a member in a group.
type Membership struct {
	ID           string `json:"id"`
	GroupID      string `json:"groupId"`
	MemberID     string `json:"memberId"`
	Role         string `json:"role"`
	Status       string `json:"status"`
	JoinPosition int    `json:"joinPosition"`
	JoinedAt     int64  `json:"joinedAt"`
}

// Cycle is the audit record of one draw.
type Cycle struct {
	ID                  string   `json:"id"`
	GroupID             string   `json:"groupId"`
	CycleNumber         int      `json:"cycleNumber"`
	WinnerID            string   `json:"winnerId"`
	PrizeAmount         string   `json:"prizeAmount"`
	Participants        []string `json:"participants"`
	Method              string   `json:"method"`
	PayoutTransactionID string   `json:"payoutTransactionId"`
	DrawnBy             string   `json:"drawnBy"`
	DrawnAt             int64    `json:"drawnAt"`
}

// Transaction is one ledger record.
type Transaction struct {
	ID             string            `json:"id"`
	MemberID       string            `json:"memberId"`
	GroupID        string            `json:"groupId,omitempty"`
	CycleNumber    int               `json:"cycleNumber,omitempty"`
	Type           string            `json:"type"`
	Scope          string            `json:"scope"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency"`
	Status         string            `json:"status"`
	IdempotencyKey string            `json:"idempotencyKey"`
	CreatedAt      int64             `json:"createdAt"`
	UpdatedAt      int64             `json:"updatedAt"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Withdrawal is a request to move wallet funds to an external account.
type Withdrawal struct {
	ID                 string `json:"id"`
	MemberID           string `json:"memberId"`
	Amount             string `json:"amount"`
	Currency           string `json:"currency"`
	DestinationAccount string `json:"destinationAccount"`
	PayoutAccountID    string `json:"payoutAccountId"`
	Status             string `json:"status"`
	TransactionID      string `json:"transactionId"`
	FailureReason      string `json:"failureReason,omitempty"`
	CreatedAt          int64  `json:"createdAt"`
	UpdatedAt          int64  `json:"updatedAt"`
}

type DrawCycleRequest struct {
	GroupID string `json:"groupId"`
}

type DrawCycleResponse struct {
	Cycle       *Cycle `json:"cycle"`
	WinnerID    string `json:"winnerId"`
	PrizeAmount string `json:"prizeAmount"`
	CycleNumber int    `json:"cycleNumber"`
	Currency    string `json:"currency"`
}

type GetBalanceRequest struct {
	// MemberID defaults to the caller; only the caller's own balance is
	// readable.
	MemberID string `json:"memberId,omitempty"`
}

type GetBalanceResponse struct {
	Amount    string `json:"amount"`
	Available string `json:"available"`
	Currency  string `json:"currency"`
}

type ListTransactionsRequest struct {
	MemberID  string `json:"memberId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
	Filter    string `json:"filter,omitempty"`
	PageSize  int    `json:"pageSize,omitempty"`
	PageToken string `json:"pageToken,omitempty"`
}

type ListTransactionsResponse struct {
	Transactions  []*Transaction `json:"transactions"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type RequestWithdrawalRequest struct {
	Amount             string `json:"amount"`
	DestinationAccount string `json:"destinationAccount"`
	IdempotencyKey     string `json:"idempotencyKey"`
}

type RequestWithdrawalResponse struct {
	WithdrawalID string      `json:"withdrawalId"`
	Status       string      `json:"status"`
	Withdrawal   *Withdrawal `json:"withdrawal"`
}

type GetWithdrawalRequest struct {
	WithdrawalID string `json:"withdrawalId"`
}

type GetWithdrawalResponse struct {
	Withdrawal *Withdrawal `json:"withdrawal"`
}

type PayContributionRequest struct {
	GroupID        string `json:"groupId"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type PayContributionResponse struct {
	Transaction *Transaction `json:"transaction"`
}

// OfflineWrite is a client write recorded while disconnected.
type OfflineWrite struct {
	Type           string            `json:"type"`
	GroupID        string            `json:"groupId,omitempty"`
	CycleNumber    int               `json:"cycleNumber,omitempty"`
	Amount         string            `json:"amount"`
	Currency       string            `json:"currency,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type SyncOfflineWritesRequest struct {
	Writes []*OfflineWrite `json:"writes"`
}

// SyncResult reports one offline write. Queued is false for writes already
// seen; Error carries the kind of a rejected write.
type SyncResult struct {
	IdempotencyKey string `json:"idempotencyKey"`
	Queued         bool   `json:"queued"`
	Error          string `json:"error,omitempty"`
}

type SyncOfflineWritesResponse struct {
	Results []*SyncResult `json:"results"`
}

type CreateGroupRequest struct {
	Name                string `json:"name"`
	ContributionAmount  string `json:"contributionAmount"`
	Currency            string `json:"currency,omitempty"`
	Frequency           string `json:"frequency"`
	MaxMembers          int    `json:"maxMembers"`
	Type                string `json:"type"`
	TotalCycles         int    `json:"totalCycles,omitempty"`
	RequiresPrepayment  bool   `json:"requiresPrepayment,omitempty"`
	RequiresFullFunding bool   `json:"requiresFullFunding,omitempty"`
}

type CreateGroupResponse struct {
	Group *Group `json:"group"`
}

type GetGroupRequest struct {
	GroupID string `json:"groupId"`
}

type GetGroupResponse struct {
	Group   *Group        `json:"group"`
	Members []*Membership `json:"members"`
}

type AddMemberRequest struct {
	GroupID  string `json:"groupId"`
	MemberID string `json:"memberId"`
	Role     string `json:"role,omitempty"`
}

type AddMemberResponse struct {
	Membership *Membership `json:"membership"`
}

type RemoveMemberRequest struct {
	GroupID      string `json:"groupId"`
	MembershipID string `json:"membershipId"`
}

type RemoveMemberResponse struct {
	Membership *Membership `json:"membership"`
}

type LeaveGroupRequest struct {
	GroupID string `json:"groupId"`
}

type LeaveGroupResponse struct {
	Membership *Membership `json:"membership"`
}

type ListEligibleMembersRequest struct {
	GroupID string `json:"groupId"`
	// CycleNumber defaults to the group's current cycle.
	CycleNumber int `json:"cycleNumber,omitempty"`
}

type ListEligibleMembersResponse struct {
	CycleNumber  int      `json:"cycleNumber"`
	MemberIDs    []string `json:"memberIds"`
	Participants []string `json:"participants"`
}

type ListCyclesRequest struct {
	GroupID string `json:"groupId"`
}

type ListCyclesResponse struct {
	Cycles []*Cycle `json:"cycles"`
}

type SetGroupStatusRequest struct {
	GroupID string `json:"groupId"`
	Status  string `json:"status"`
}

type SetGroupStatusResponse struct {
	Group *Group `json:"group"`
}
