package aggregate

import (
	"fmt"

	model "github.com/okian/starkpi/internal/domain/model"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Compute derives the KPI row of (date, toolKey) from every fact stored for
// that pair. It is a pure function of its input.
func Compute(date string, toolKey int64, facts []model.Fact) model.DailyKPI {
	k := model.DailyKPI{
		KPIKey:  KPIKey(date, toolKey),
		Date:    date,
		ToolKey: toolKey,
	}

	sessions := make(map[int64]struct{})
	users := make(map[string]struct{})
	var (
		procSum, sizeSum int64
		procN, sizeN     int64
	)
	for i := range facts {
		f := &facts[i]
		k.TotalEvents++
		if f.UploadFlag {
			k.TotalUploads++
		}
		if f.ProcessingFlag {
			k.TotalProcessing++
		}
		if f.DownloadFlag {
			k.TotalDownloads++
		}
		if f.ErrorFlag {
			k.TotalErrors++
		}
		if f.Class == model.ClassPageView {
			k.PageViews++
		}
		if f.SessionKey != model.UnknownKey {
			sessions[f.SessionKey] = struct{}{}
		}
		if f.UserID != "" {
			users[f.UserID] = struct{}{}
		}
		if f.ProcessingTimeMs != nil {
			procSum += *f.ProcessingTimeMs
			procN++
		}
		if f.FileSizeBytes != nil {
			sizeSum += *f.FileSizeBytes
			sizeN++
		}
	}
	k.UniqueSessions = int64(len(sessions))
	k.UniqueUsers = int64(len(users))

	k.ConversionRate = Rate(k.TotalDownloads, k.TotalUploads)
	k.UploadToProcessingRate = Rate(k.TotalProcessing, k.TotalUploads)
	k.ProcessingToDownloadRate = Rate(k.TotalDownloads, k.TotalProcessing)
	k.AvgProcessingTimeMs = mean(procSum, procN)
	k.AvgFileSizeBytes = mean(sizeSum, sizeN)
	return k
}

// Rate returns num/den as a percentage rounded to one decimal and clamped to
// [0, 100]. It is nil when den is zero.
func Rate(num, den int64) *float64 {
	if den <= 0 {
		return nil
	}
	r := decimal.NewFromInt(num).Mul(hundred).Div(decimal.NewFromInt(den)).Round(1)
	switch {
	case r.IsNegative():
		r = decimal.Zero
	case r.GreaterThan(hundred):
		r = hundred
	}
	f, _ := r.Float64()
	return &f
}

func mean(sum, n int64) *float64 {
	if n == 0 {
		return nil
	}
	f, _ := decimal.NewFromInt(sum).Div(decimal.NewFromInt(n)).Round(2).Float64()
	return &f
}

// KPIKey is the natural key of a daily KPI row.
func KPIKey(date string, toolKey int64) string {
	return fmt.Sprintf("%s_%d", date, toolKey)
}
