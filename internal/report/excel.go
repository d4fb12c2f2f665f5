// Package report exports an expense's approval trail as an Excel workbook,
// the format finance teams archive and hand to auditors.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/amitjoshi/expenseflow/internal/domain/entity"
)

const (
	sheetName = "Approval Trail"

	headerRow     = 1
	summaryRow    = 2
	trailTitleRow = 4
	trailStart    = 5
)

// Config holds report export configuration
type Config struct {
	OutputDir   string
	CompanyName string
}

// Exporter writes approval trail workbooks.
type Exporter struct {
	cfg    Config
	logger *zap.Logger
}

// NewExporter creates a new report exporter, ensuring the output directory
// exists.
func NewExporter(cfg Config, logger *zap.Logger) (*Exporter, error) {
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create report output dir: %w", err)
	}
	return &Exporter{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Export writes one workbook for the expense and returns the file path.
func (e *Exporter) Export(ctx context.Context, expense *entity.Expense, tasks []*entity.ApprovalTask) (string, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(sheet)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return "", fmt.Errorf("failed to remove default sheet: %w", err)
	}

	if err := e.fillSummary(f, expense); err != nil {
		return "", err
	}
	if err := e.fillTrail(f, tasks); err != nil {
		return "", err
	}

	_ = f.SetColWidth(sheetName, "A", "H", 18)

	path := filepath.Join(e.cfg.OutputDir, fmt.Sprintf("expense_%s.xlsx", expense.ID))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}

	e.logger.Info("Approval report exported",
		zap.String("expense_id", expense.ID),
		zap.String("path", path),
		zap.Int("tasks", len(tasks)))
	return path, nil
}

func (e *Exporter) fillSummary(f *excelize.File, expense *entity.Expense) error {
	headers := []string{"Company", "Expense", "Employee", "Category", "Amount", "Currency", "Status", "Finalized"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return fmt.Errorf("failed to write summary header: %w", err)
		}
	}

	finalized := ""
	if expense.FinalizedAt != nil {
		finalized = expense.FinalizedAt.Format(time.RFC3339)
	}
	values := []interface{}{
		e.cfg.CompanyName, expense.ID, string(expense.EmployeeID), expense.Category,
		expense.AmountCompany, expense.CurrencyCompany, expense.Status, finalized,
	}
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, summaryRow)
		if err := f.SetCellValue(sheetName, cell, v); err != nil {
			return fmt.Errorf("failed to write summary: %w", err)
		}
	}
	return nil
}

func (e *Exporter) fillTrail(f *excelize.File, tasks []*entity.ApprovalTask) error {
	columns := []string{"Step", "Assignee", "Status", "Decision", "Comment", "Decided At"}
	for i, c := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, trailTitleRow)
		if err := f.SetCellValue(sheetName, cell, c); err != nil {
			return fmt.Errorf("failed to write trail header: %w", err)
		}
	}

	for i, task := range tasks {
		decidedAt := ""
		if task.DecidedAt != nil {
			decidedAt = task.DecidedAt.Format(time.RFC3339)
		}
		values := []interface{}{
			task.StepOrder, string(task.AssigneeID), task.Status,
			task.Decision, task.Comment, decidedAt,
		}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, trailStart+i)
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return fmt.Errorf("failed to write trail row: %w", err)
			}
		}
	}
	return nil
}
