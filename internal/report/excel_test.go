package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
)

func TestExport(t *testing.T) {
	exporter, err := NewExporter(Config{
		OutputDir:   t.TempDir(),
		CompanyName: "Acme Corp",
	}, zap.NewNop())
	require.NoError(t, err)

	decidedAt := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	expense := &entity.Expense{
		ID:              "exp-42",
		EmployeeID:      "emp-1",
		Category:        entity.CategoryTravel,
		AmountCompany:   125.50,
		CurrencyCompany: "USD",
		Status:          entity.ExpenseStatusApproved,
		FinalizedAt:     &decidedAt,
	}
	tasks := []*entity.ApprovalTask{
		{StepOrder: 1, AssigneeID: "mgr-1", Status: entity.TaskStatusApproved,
			Decision: entity.DecisionApprove, Comment: "ok", DecidedAt: &decidedAt},
		{StepOrder: 2, AssigneeID: "fin-1", Status: entity.TaskStatusMoot},
	}

	path, err := exporter.Export(context.Background(), expense, tasks)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	company, err := f.GetCellValue("Approval Trail", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", company)

	status, err := f.GetCellValue("Approval Trail", "G2")
	require.NoError(t, err)
	assert.Equal(t, entity.ExpenseStatusApproved, status)

	assignee, err := f.GetCellValue("Approval Trail", "B5")
	require.NoError(t, err)
	assert.Equal(t, "mgr-1", assignee)

	mootStatus, err := f.GetCellValue("Approval Trail", "C6")
	require.NoError(t, err)
	assert.Equal(t, entity.TaskStatusMoot, mootStatus)
}
