package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

const (
	DrawServiceName   = "kixikila.v1.DrawService"
	WalletServiceName = "kixikila.v1.WalletService"
	GroupServiceName  = "kixikila.v1.GroupService"
)

// Fully-qualified procedure names, used as HTTP paths.
const (
	DrawServiceDrawCycleProcedure = "/" + DrawServiceName + "/DrawCycle"

	WalletServiceGetBalanceProcedure        = "/" + WalletServiceName + "/GetBalance"
	WalletServiceListTransactionsProcedure  = "/" + WalletServiceName + "/ListTransactions"
	WalletServiceRequestWithdrawalProcedure = "/" + WalletServiceName + "/RequestWithdrawal"
	WalletServiceGetWithdrawalProcedure     = "/" + WalletServiceName + "/GetWithdrawal"
	WalletServicePayContributionProcedure   = "/" + WalletServiceName + "/PayContribution"
	WalletServiceSyncOfflineWritesProcedure = "/" + WalletServiceName + "/SyncOfflineWrites"

	GroupServiceCreateGroupProcedure         = "/" + GroupServiceName + "/CreateGroup"
	GroupServiceGetGroupProcedure            = "/" + GroupServiceName + "/GetGroup"
	GroupServiceAddMemberProcedure           = "/" + GroupServiceName + "/AddMember"
	GroupServiceRemoveMemberProcedure        = "/" + GroupServiceName + "/RemoveMember"
	GroupServiceLeaveGroupProcedure          = "/" + GroupServiceName + "/LeaveGroup"
	GroupServiceListEligibleMembersProcedure = "/" + GroupServiceName + "/ListEligibleMembers"
	GroupServiceListCyclesProcedure          = "/" + GroupServiceName + "/ListCycles"
	GroupServiceSetGroupStatusProcedure      = "/" + GroupServiceName + "/SetGroupStatus"
)

// ErrorKindKey is the error metadata key carrying the stable error kind.
const ErrorKindKey = "Kixikila-Error-Kind"

// ErrorKind returns the error kind attached to a Connect error, or "".
func ErrorKind(err error) string {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return ce.Meta().Get(ErrorKindKey)
	}
	return ""
}

// DrawServiceHandler runs cycle draws.
type DrawServiceHandler interface {
	DrawCycle(context.Context, *connect.Request[DrawCycleRequest]) (*connect.Response[DrawCycleResponse], error)
}

// WalletServiceHandler serves balances, history and money movements.
type WalletServiceHandler interface {
	GetBalance(context.Context, *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error)
	ListTransactions(context.Context, *connect.Request[ListTransactionsRequest]) (*connect.Response[ListTransactionsResponse], error)
	RequestWithdrawal(context.Context, *connect.Request[RequestWithdrawalRequest]) (*connect.Response[RequestWithdrawalResponse], error)
	GetWithdrawal(context.Context, *connect.Request[GetWithdrawalRequest]) (*connect.Response[GetWithdrawalResponse], error)
	PayContribution(context.Context, *connect.Request[PayContributionRequest]) (*connect.Response[PayContributionResponse], error)
	SyncOfflineWrites(context.Context, *connect.Request[SyncOfflineWritesRequest]) (*connect.Response[SyncOfflineWritesResponse], error)
}

// GroupServiceHandler manages groups and memberships.
type GroupServiceHandler interface {
	CreateGroup(context.Context, *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error)
	GetGroup(context.Context, *connect.Request[GetGroupRequest]) (*connect.Response[GetGroupResponse], error)
	AddMember(context.Context, *connect.Request[AddMemberRequest]) (*connect.Response[AddMemberResponse], error)
	RemoveMember(context.Context, *connect.Request[RemoveMemberRequest]) (*connect.Response[RemoveMemberResponse], error)
	LeaveGroup(context.Context, *connect.Request[LeaveGroupRequest]) (*connect.Response[LeaveGroupResponse], error)
	ListEligibleMembers(context.Context, *connect.Request[ListEligibleMembersRequest]) (*connect.Response[ListEligibleMembersResponse], error)
	ListCycles(context.Context, *connect.Request[ListCyclesRequest]) (*connect.Response[ListCyclesResponse], error)
	SetGroupStatus(context.Context, *connect.Request[SetGroupStatusRequest]) (*connect.Response[SetGroupStatusResponse], error)
}

func handlerOptions(opts []connect.HandlerOption) []connect.HandlerOption {
	return append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)
}

func clientOptions(opts []connect.ClientOption) []connect.ClientOption {
	return append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
}

// route serves each procedure's handler on its path.
func route(service string, handlers map[string]http.Handler) (string, http.Handler) {
	return "/" + service + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h, ok := handlers[r.URL.Path]; ok {
			h.ServeHTTP(w, r)
			return
		}
		http.NotFound(w, r)
	})
}

// NewDrawServiceHandler returns the path to mount the service on and its handler.
func NewDrawServiceHandler(svc DrawServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return route(DrawServiceName, map[string]http.Handler{
		DrawServiceDrawCycleProcedure: connect.NewUnaryHandler(DrawServiceDrawCycleProcedure, svc.DrawCycle, opts...),
	})
}

// NewWalletServiceHandler returns the path to mount the service on and its handler.
func NewWalletServiceHandler(svc WalletServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return route(WalletServiceName, map[string]http.Handler{
		WalletServiceGetBalanceProcedure:        connect.NewUnaryHandler(WalletServiceGetBalanceProcedure, svc.GetBalance, opts...),
		WalletServiceListTransactionsProcedure:  connect.NewUnaryHandler(WalletServiceListTransactionsProcedure, svc.ListTransactions, opts...),
		WalletServiceRequestWithdrawalProcedure: connect.NewUnaryHandler(WalletServiceRequestWithdrawalProcedure, svc.RequestWithdrawal, opts...),
		WalletServiceGetWithdrawalProcedure:     connect.NewUnaryHandler(WalletServiceGetWithdrawalProcedure, svc.GetWithdrawal, opts...),
		WalletServicePayContributionProcedure:   connect.NewUnaryHandler(WalletServicePayContributionProcedure, svc.PayContribution, opts...),
		WalletServiceSyncOfflineWritesProcedure: connect.NewUnaryHandler(WalletServiceSyncOfflineWritesProcedure, svc.SyncOfflineWrites, opts...),
	})
}

// NewGroupServiceHandler returns the path to mount the service on and its handler.
func NewGroupServiceHandler(svc GroupServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = handlerOptions(opts)
	return route(GroupServiceName, map[string]http.Handler{
		GroupServiceCreateGroupProcedure:         connect.NewUnaryHandler(GroupServiceCreateGroupProcedure, svc.CreateGroup, opts...),
		GroupServiceGetGroupProcedure:            connect.NewUnaryHandler(GroupServiceGetGroupProcedure, svc.GetGroup, opts...),
		GroupServiceAddMemberProcedure:           connect.NewUnaryHandler(GroupServiceAddMemberProcedure, svc.AddMember, opts...),
		GroupServiceRemoveMemberProcedure:        connect.NewUnaryHandler(GroupServiceRemoveMemberProcedure, svc.RemoveMember, opts...),
		GroupServiceLeaveGroupProcedure:          connect.NewUnaryHandler(GroupServiceLeaveGroupProcedure, svc.LeaveGroup, opts...),
		GroupServiceListEligibleMembersProcedure: connect.NewUnaryHandler(GroupServiceListEligibleMembersProcedure, svc.ListEligibleMembers, opts...),
		GroupServiceListCyclesProcedure:          connect.NewUnaryHandler(GroupServiceListCyclesProcedure, svc.ListCycles, opts...),
		GroupServiceSetGroupStatusProcedure:      connect.NewUnaryHandler(GroupServiceSetGroupStatusProcedure, svc.SetGroupStatus, opts...),
	})
}

// DrawServiceClient calls DrawService.
type DrawServiceClient struct {
	drawCycle *connect.Client[DrawCycleRequest, DrawCycleResponse]
}

// NewDrawServiceClient creates a client for the server at baseURL.
func NewDrawServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *DrawServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &DrawServiceClient{
		drawCycle: connect.NewClient[DrawCycleRequest, DrawCycleResponse](httpClient, baseURL+DrawServiceDrawCycleProcedure, opts...),
	}
}

func (c *DrawServiceClient) DrawCycle(ctx context.Context, req *connect.Request[DrawCycleRequest]) (*connect.Response[DrawCycleResponse], error) {
	return c.drawCycle.CallUnary(ctx, req)
}

// WalletServiceClient calls WalletService.
type WalletServiceClient struct {
	getBalance        *connect.Client[GetBalanceRequest, GetBalanceResponse]
	listTransactions  *connect.Client[ListTransactionsRequest, ListTransactionsResponse]
	requestWithdrawal *connect.Client[RequestWithdrawalRequest, RequestWithdrawalResponse]
	getWithdrawal     *connect.Client[GetWithdrawalRequest, GetWithdrawalResponse]
	payContribution   *connect.Client[PayContributionRequest, PayContributionResponse]
	syncOfflineWrites *connect.Client[SyncOfflineWritesRequest, SyncOfflineWritesResponse]
}

// NewWalletServiceClient creates a client for the server at baseURL.
func NewWalletServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *WalletServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &WalletServiceClient{
		getBalance:        connect.NewClient[GetBalanceRequest, GetBalanceResponse](httpClient, baseURL+WalletServiceGetBalanceProcedure, opts...),
		listTransactions:  connect.NewClient[ListTransactionsRequest, ListTransactionsResponse](httpClient, baseURL+WalletServiceListTransactionsProcedure, opts...),
		requestWithdrawal: connect.NewClient[RequestWithdrawalRequest, RequestWithdrawalResponse](httpClient, baseURL+WalletServiceRequestWithdrawalProcedure, opts...),
		getWithdrawal:     connect.NewClient[GetWithdrawalRequest, GetWithdrawalResponse](httpClient, baseURL+WalletServiceGetWithdrawalProcedure, opts...),
		payContribution:   connect.NewClient[PayContributionRequest, PayContributionResponse](httpClient, baseURL+WalletServicePayContributionProcedure, opts...),
		syncOfflineWrites: connect.NewClient[SyncOfflineWritesRequest, SyncOfflineWritesResponse](httpClient, baseURL+WalletServiceSyncOfflineWritesProcedure, opts...),
	}
}

func (c *WalletServiceClient) GetBalance(ctx context.Context, req *connect.Request[GetBalanceRequest]) (*connect.Response[GetBalanceResponse], error) {
	return c.getBalance.CallUnary(ctx, req)
}

func (c *WalletServiceClient) ListTransactions(ctx context.Context, req *connect.Request[ListTransactionsRequest]) (*connect.Response[ListTransactionsResponse], error) {
	return c.listTransactions.CallUnary(ctx, req)
}

func (c *WalletServiceClient) RequestWithdrawal(ctx context.Context, req *connect.Request[RequestWithdrawalRequest]) (*connect.Response[RequestWithdrawalResponse], error) {
	return c.requestWithdrawal.CallUnary(ctx, req)
}

func (c *WalletServiceClient) GetWithdrawal(ctx context.Context, req *connect.Request[GetWithdrawalRequest]) (*connect.Response[GetWithdrawalResponse], error) {
	return c.getWithdrawal.CallUnary(ctx, req)
}

func (c *WalletServiceClient) PayContribution(ctx context.Context, req *connect.Request[PayContributionRequest]) (*connect.Response[PayContributionResponse], error) {
	return c.payContribution.CallUnary(ctx, req)
}

func (c *WalletServiceClient) SyncOfflineWrites(ctx context.Context, req *connect.Request[SyncOfflineWritesRequest]) (*connect.Response[SyncOfflineWritesResponse], error) {
	return c.syncOfflineWrites.CallUnary(ctx, req)
}

// GroupServiceClient calls GroupService.
type GroupServiceClient struct {
	createGroup         *connect.Client[CreateGroupRequest, CreateGroupResponse]
	getGroup            *connect.Client[GetGroupRequest, GetGroupResponse]
	addMember           *connect.Client[AddMemberRequest, AddMemberResponse]
	removeMember        *connect.Client[RemoveMemberRequest, RemoveMemberResponse]
	leaveGroup          *connect.Client[LeaveGroupRequest, LeaveGroupResponse]
	listEligibleMembers *connect.Client[ListEligibleMembersRequest, ListEligibleMembersResponse]
	listCycles          *connect.Client[ListCyclesRequest, ListCyclesResponse]
	setGroupStatus      *connect.Client[SetGroupStatusRequest, SetGroupStatusResponse]
}

// NewGroupServiceClient creates a client for the server at baseURL.
func NewGroupServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *GroupServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = clientOptions(opts)
	return &GroupServiceClient{
		createGroup:         connect.NewClient[CreateGroupRequest, CreateGroupResponse](httpClient, baseURL+GroupServiceCreateGroupProcedure, opts...),
		getGroup:            connect.NewClient[GetGroupRequest, GetGroupResponse](httpClient, baseURL+GroupServiceGetGroupProcedure, opts...),
		addMember:           connect.NewClient[AddMemberRequest, AddMemberResponse](httpClient, baseURL+GroupServiceAddMemberProcedure, opts...),
		removeMember:        connect.NewClient[RemoveMemberRequest, RemoveMemberResponse](httpClient, baseURL+GroupServiceRemoveMemberProcedure, opts...),
		leaveGroup:          connect.NewClient[LeaveGroupRequest, LeaveGroupResponse](httpClient, baseURL+GroupServiceLeaveGroupProcedure, opts...),
		listEligibleMembers: connect.NewClient[ListEligibleMembersRequest, ListEligibleMembersResponse](httpClient, baseURL+GroupServiceListEligibleMembersProcedure, opts...),
		listCycles:          connect.NewClient[ListCyclesRequest, ListCyclesResponse](httpClient, baseURL+GroupServiceListCyclesProcedure, opts...),
		setGroupStatus:      connect.NewClient[SetGroupStatusRequest, SetGroupStatusResponse](httpClient, baseURL+GroupServiceSetGroupStatusProcedure, opts...),
	}
}

func (c *GroupServiceClient) CreateGroup(ctx context.Context, req *connect.Request[CreateGroupRequest]) (*connect.Response[CreateGroupResponse], error) {
	return c.createGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) GetGroup(ctx context.Context, req *connect.Request[GetGroupRequest]) (*connect.Response[GetGroupResponse], error) {
	return c.getGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) AddMember(ctx context.Context, req *connect.Request[AddMemberRequest]) (*connect.Response[AddMemberResponse], error) {
	return c.addMember.CallUnary(ctx, req)
}

func (c *GroupServiceClient) RemoveMember(ctx context.Context, req *connect.Request[RemoveMemberRequest]) (*connect.Response[RemoveMemberResponse], error) {
	return c.removeMember.CallUnary(ctx, req)
}

func (c *GroupServiceClient) LeaveGroup(ctx context.Context, req *connect.Request[LeaveGroupRequest]) (*connect.Response[LeaveGroupResponse], error) {
	return c.leaveGroup.CallUnary(ctx, req)
}

func (c *GroupServiceClient) ListEligibleMembers(ctx context.Context, req *connect.Request[ListEligibleMembersRequest]) (*connect.Response[ListEligibleMembersResponse], error) {
	return c.listEligibleMembers.CallUnary(ctx, req)
}

func (c *GroupServiceClient) ListCycles(ctx context.Context, req *connect.Request[ListCyclesRequest]) (*connect.Response[ListCyclesResponse], error) {
	return c.listCycles.CallUnary(ctx, req)
}

func (c *GroupServiceClient) SetGroupStatus(ctx context.Context, req *connect.Request[SetGroupStatusRequest]) (*connect.Response[SetGroupStatusResponse], error) {
	return c.setGroupStatus.CallUnary(ctx, req)
}
