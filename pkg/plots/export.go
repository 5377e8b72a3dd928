package plots

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	harvestSheet   = "Harvests"
	cropYieldSheet = "Crop yields"
)

var harvestColumns = []any{
	"Harvest ID", "Plot ID", "Plot", "Crop", "Sowing date", "Harvest date",
	"Quantity", "Unit", "Area (ha)", "Projected yield", "Actual yield", "Yield unit",
	"Difference %", "Soil condition", "Rest days", "Released at", "Forced release justification",
}

var cropYieldColumns = []any{
	"Crop", "Name", "Yield unit", "Harvests", "Avg projected", "Avg actual", "Difference %",
}

// ExportHarvests writes a company's harvest history and crop yield
// comparison as an XLSX workbook.
func (r *Reporter) ExportHarvests(ctx context.Context, companyID string, w io.Writer) error {
	harvests, err := NewHarvestStore(r.db.WithContext(ctx)).ListByCompany(companyID)
	if err != nil {
		return err
	}
	plots, err := NewPlotStore(r.db.WithContext(ctx)).List(PlotFilter{CompanyID: companyID})
	if err != nil {
		return err
	}
	names := make(map[string]string, len(plots))
	for _, p := range plots {
		names[p.ID] = p.Name
	}
	crops, err := r.CropYields(ctx, companyID)
	if err != nil {
		return err
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", harvestSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(cropYieldSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := writeRow(f, harvestSheet, 1, harvestColumns); err != nil {
		return err
	}
	for i, h := range harvests {
		row := []any{
			h.ID, h.PlotID, names[h.PlotID], h.CropID, dateCell(h.SowingDate), h.HarvestDate.Format(time.DateOnly),
			h.Quantity.InexactFloat64(), h.QuantityUnit, h.AreaHectares.InexactFloat64(),
			h.ProjectedYield.InexactFloat64(), h.ActualYield.InexactFloat64(), h.YieldUnit,
			percentCell(h.PercentDifference), h.SoilCondition, h.RecommendedRestDays,
			dateCell(h.ReleasedAt), stringCell(h.ForcedReleaseJustification),
		}
		if err := writeRow(f, harvestSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, cropYieldSheet, 1, cropYieldColumns); err != nil {
		return err
	}
	for i, c := range crops {
		row := []any{
			c.CropID, c.CropName, c.YieldUnit, c.Harvests,
			c.AvgProjected.InexactFloat64(), c.AvgActual.InexactFloat64(), percentCell(c.PercentDifference),
		}
		if err := writeRow(f, cropYieldSheet, i+2, row); err != nil {
			return err
		}
	}

	for _, sheet := range []string{harvestSheet, cropYieldSheet} {
		if err := f.SetRowStyle(sheet, 1, 1, header); err != nil {
			return fmt.Errorf("style header: %w", err)
		}
		if err := f.SetColWidth(sheet, "A", "Q", 16); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func dateCell(t *time.Time) any {
	if t == nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func percentCell(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func stringCell(s *string) any {
	if s == nil {
		return ""
	}
	return *s
}
