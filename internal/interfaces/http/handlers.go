package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
	"github.com/amitjoshi/expenseflow/internal/engine"
	"github.com/amitjoshi/expenseflow/internal/report"
	"github.com/amitjoshi/expenseflow/pkg/utils"
)

// actorHeader carries the authenticated caller's user id. Authentication
// itself happens upstream; this service trusts the gateway.
const actorHeader = "X-User-ID"

// Handlers contains all HTTP request handlers
type Handlers struct {
	coordinator *engine.Coordinator
	exporter    *report.Exporter
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(coordinator *engine.Coordinator, exporter *report.Exporter, logger Logger) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		exporter:    exporter,
		logger:      logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
}

// CreateExpenseRequest represents the expense creation payload
type CreateExpenseRequest struct {
	CompanyID        string  `json:"company_id" binding:"required"`
	AmountOriginal   float64 `json:"amount_original" binding:"required,gt=0"`
	CurrencyOriginal string  `json:"currency_original" binding:"required"`
	AmountCompany    float64 `json:"amount_company" binding:"required,gt=0"`
	CurrencyCompany  string  `json:"currency_company" binding:"required"`
	Category         string  `json:"category" binding:"required"`
	Description      string  `json:"description"`
	ExpenseDate      string  `json:"expense_date" binding:"required"`
}

// DecideTaskRequest represents the decision payload
type DecideTaskRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comment  string `json:"comment"`
}

// DecideTaskResponse reports the expense status after a decision.
type DecideTaskResponse struct {
	TaskID        string `json:"task_id"`
	ExpenseStatus string `json:"expense_status"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: HealthResponse{
			Status:    "healthy",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   "1.0.0",
		},
	})
}

// CreateExpense handles POST /api/expenses
func (h *Handlers) CreateExpense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req CreateExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid expense payload", err)
		return
	}

	expenseDate, err := time.Parse("2006-01-02", req.ExpenseDate)
	if err != nil {
		h.badRequest(c, "expense_date must be YYYY-MM-DD", err)
		return
	}
	for _, check := range []error{
		utils.ValidateAmount(req.AmountCompany),
		utils.ValidateCurrency(req.CurrencyOriginal),
		utils.ValidateCurrency(req.CurrencyCompany),
	} {
		if check != nil {
			h.badRequest(c, check.Error(), check)
			return
		}
	}

	expense := &entity.Expense{
		CompanyID:        req.CompanyID,
		EmployeeID:       actor,
		AmountOriginal:   req.AmountOriginal,
		CurrencyOriginal: req.CurrencyOriginal,
		AmountCompany:    req.AmountCompany,
		CurrencyCompany:  req.CurrencyCompany,
		Category:         req.Category,
		Description:      utils.SanitizeString(req.Description),
		ExpenseDate:      expenseDate,
	}
	if err := h.coordinator.CreateDraft(c.Request.Context(), expense); err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: expense})
}

// GetExpense handles GET /api/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	expense, err := h.coordinator.Expense(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// ListExpenseTasks handles GET /api/expenses/:id/tasks
func (h *Handlers) ListExpenseTasks(c *gin.Context) {
	tasks, err := h.coordinator.TasksFor(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// SubmitExpense handles POST /api/expenses/:id/submit
func (h *Handlers) SubmitExpense(c *gin.Context) {
	expense, err := h.coordinator.Submit(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// WithdrawExpense handles POST /api/expenses/:id/withdraw
func (h *Handlers) WithdrawExpense(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	if err := h.coordinator.Withdraw(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ExportReport handles GET /api/expenses/:id/report
func (h *Handlers) ExportReport(c *gin.Context) {
	ctx := c.Request.Context()
	expense, err := h.coordinator.Expense(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	tasks, err := h.coordinator.TasksFor(ctx, expense.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	path, err := h.exporter.Export(ctx, expense, tasks)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.FileAttachment(path, "expense_"+expense.ID+".xlsx")
}

// ListPendingTasks handles GET /api/tasks/pending
func (h *Handlers) ListPendingTasks(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	tasks, err := h.coordinator.TasksPendingFor(c.Request.Context(), actor)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: tasks})
}

// DecideTask handles POST /api/tasks/:id/decision
func (h *Handlers) DecideTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var req DecideTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid decision payload", err)
		return
	}

	taskID := c.Param("id")
	status, err := h.coordinator.Decide(c.Request.Context(), taskID, actor, req.Decision, req.Comment)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{
		Success: true,
		Data:    DecideTaskResponse{TaskID: taskID, ExpenseStatus: status},
	})
}

// PublishWorkflow handles POST /api/workflows
func (h *Handlers) PublishWorkflow(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}

	var def entity.WorkflowDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		h.badRequest(c, "invalid workflow definition", err)
		return
	}
	def.CreatedBy = actor

	if err := h.coordinator.PublishDefinition(c.Request.Context(), &def); err != nil {
		// Publish rejects only malformed definitions before any state change.
		h.badRequest(c, err.Error(), err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: def})
}

// ActivateWorkflow handles POST /api/workflows/:id/activate
func (h *Handlers) ActivateWorkflow(c *gin.Context) {
	companyID := c.Query("company_id")
	if companyID == "" {
		h.badRequest(c, "company_id is required", nil)
		return
	}

	if err := h.coordinator.ActivateDefinition(c.Request.Context(), companyID, c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true})
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	companyID := c.Query("company_id")
	if companyID == "" {
		h.badRequest(c, "company_id is required", nil)
		return
	}

	defs, err := h.coordinator.ListDefinitions(c.Request.Context(), companyID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: defs})
}

func (h *Handlers) actor(c *gin.Context) (entity.UserID, bool) {
	actor := c.GetHeader(actorHeader)
	if actor == "" {
		c.JSON(http.StatusUnauthorized, Response{
			Success: false,
			Error:   actorHeader + " header is required",
		})
		return "", false
	}
	return entity.UserID(actor), true
}

func (h *Handlers) badRequest(c *gin.Context, msg string, err error) {
	if err != nil {
		h.logger.Error("Bad request", "error", err)
	}
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

// fail maps engine errors onto HTTP status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case engine.IsNotFound(err):
		status = http.StatusNotFound
	case engine.IsConflict(err):
		status = http.StatusConflict
	case engine.IsTransient(err):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrUnauthorized), errors.Is(err, engine.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, engine.ErrInvalidDecision):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	}
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
