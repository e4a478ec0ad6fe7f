package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	effectdomain "github.com/comandahub/paycore/internal/effect/domain"
	"github.com/comandahub/paycore/internal/settlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertSettlement(ctx context.Context, db *gorm.DB, s *domain.Settlement) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO settlements (
			id, partner_id, period_start, period_end, status,
			gross_total, platform_fee_total, partner_net_total,
			transaction_count, created_at, updated_at, approved_at, paid_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (partner_id, period_start, period_end)
		WHERE status <> 'cancelled' DO NOTHING`,
		s.ID,
		s.PartnerID,
		s.PeriodStart,
		s.PeriodEnd,
		s.Status,
		s.GrossTotal,
		s.PlatformFeeTotal,
		s.PartnerNetTotal,
		s.TransactionCount,
		s.CreatedAt,
		s.UpdatedAt,
		s.ApprovedAt,
		s.PaidAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindActiveByPeriod(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, periodStart, periodEnd time.Time) (*domain.Settlement, error) {
	var item domain.Settlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, period_start, period_end, status,
			gross_total, platform_fee_total, partner_net_total,
			transaction_count, created_at, updated_at, approved_at, paid_at
		 FROM settlements
		 WHERE partner_id = ? AND period_start = ? AND period_end = ?
		   AND status <> 'cancelled'
		 LIMIT 1`,
		partnerID,
		periodStart,
		periodEnd,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Settlement, error) {
	var item domain.Settlement
	err := db.WithContext(ctx).Raw(
		`SELECT id, partner_id, period_start, period_end, status,
			gross_total, platform_fee_total, partner_net_total,
			transaction_count, created_at, updated_at, approved_at, paid_at
		 FROM settlements
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

// ListUnsettledEarnings returns pending earnings in the period that no
// active settlement has claimed yet.
func (r *repo) ListUnsettledEarnings(ctx context.Context, db *gorm.DB, partnerID snowflake.ID, periodStart, periodEnd time.Time) ([]effectdomain.PartnerEarning, error) {
	var items []effectdomain.PartnerEarning
	err := db.WithContext(ctx).Raw(
		`SELECT e.id, e.partner_id, e.tenant_id, e.provider, e.provider_payment_id,
			e.source_event_id, e.gross_amount, e.commission_amount, e.net_amount,
			e.status, e.original_earning_id, e.risk_flagged, e.occurred_at, e.created_at
		 FROM partner_earnings e
		 LEFT JOIN settlement_items si ON si.earning_id = e.id
		 WHERE e.partner_id = ?
		   AND e.status = 'pending'
		   AND e.occurred_at >= ? AND e.occurred_at < ?
		   AND si.id IS NULL
		 ORDER BY e.occurred_at ASC, e.id ASC`,
		partnerID,
		periodStart,
		periodEnd,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertItem(ctx context.Context, db *gorm.DB, item *domain.SettlementItem) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO settlement_items (id, settlement_id, earning_id, net_amount, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (earning_id) DO NOTHING`,
		item.ID,
		item.SettlementID,
		item.EarningID,
		item.NetAmount,
		item.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) UpdateTotals(ctx context.Context, db *gorm.DB, id snowflake.ID, gross, platformFee, partnerNet, count int64) error {
	return db.WithContext(ctx).Exec(
		`UPDATE settlements
		 SET gross_total = ?, platform_fee_total = ?, partner_net_total = ?,
			transaction_count = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'draft'`,
		gross,
		platformFee,
		partnerNet,
		count,
		id,
	).Error
}

func (r *repo) MarkEarningsSettled(ctx context.Context, db *gorm.DB, earningIDs []snowflake.ID) error {
	if len(earningIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE partner_earnings SET status = 'settled' WHERE id IN (?)`,
		earningIDs,
	).Error
}

// ReleaseEarnings detaches a cancelled settlement's items so the earnings
// can be picked up by a future generation run.
func (r *repo) ReleaseEarnings(ctx context.Context, db *gorm.DB, settlementID snowflake.ID) error {
	err := db.WithContext(ctx).Exec(
		`UPDATE partner_earnings SET status = 'pending'
		 WHERE id IN (SELECT earning_id FROM settlement_items WHERE settlement_id = ?)`,
		settlementID,
	).Error
	if err != nil {
		return err
	}
	return db.WithContext(ctx).Exec(
		`DELETE FROM settlement_items WHERE settlement_id = ?`,
		settlementID,
	).Error
}

// TransitionStatus moves a settlement forward only when it is still in the
// expected state; the WHERE clause makes repeated calls no-ops.
func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.Status, at time.Time) (bool, error) {
	query := `UPDATE settlements SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	args := []any{to, at, id, from}
	switch to {
	case domain.StatusApproved:
		query = `UPDATE settlements SET status = ?, updated_at = ?, approved_at = ? WHERE id = ? AND status = ?`
		args = []any{to, at, at, id, from}
	case domain.StatusPaid:
		query = `UPDATE settlements SET status = ?, updated_at = ?, paid_at = ? WHERE id = ? AND status = ?`
		args = []any{to, at, at, id, from}
	}
	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Summarize(ctx context.Context, db *gorm.DB, partnerID snowflake.ID) (*domain.PartnerFinancialSummary, error) {
	summary := domain.PartnerFinancialSummary{PartnerID: partnerID}
	row := struct {
		EarnedNet     int64
		ReversedNet   int64
		PendingNet    int64
		SettledNet    int64
		EarningCount  int64
		ReversalCount int64
	}{}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN original_earning_id IS NULL THEN net_amount ELSE 0 END), 0) AS earned_net,
			COALESCE(SUM(CASE WHEN original_earning_id IS NOT NULL THEN net_amount ELSE 0 END), 0) AS reversed_net,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN net_amount ELSE 0 END), 0) AS pending_net,
			COALESCE(SUM(CASE WHEN status = 'settled' THEN net_amount ELSE 0 END), 0) AS settled_net,
			COALESCE(SUM(CASE WHEN original_earning_id IS NULL THEN 1 ELSE 0 END), 0) AS earning_count,
			COALESCE(SUM(CASE WHEN original_earning_id IS NOT NULL THEN 1 ELSE 0 END), 0) AS reversal_count
		 FROM partner_earnings
		 WHERE partner_id = ?`,
		partnerID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	summary.TotalEarnedNet = row.EarnedNet
	summary.TotalReversed = row.ReversedNet
	summary.PendingNet = row.PendingNet
	summary.SettledNet = row.SettledNet
	summary.EarningCount = row.EarningCount
	summary.ReversalCount = row.ReversalCount

	var paidOut int64
	err = db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(partner_net_total), 0)
		 FROM settlements
		 WHERE partner_id = ? AND status = 'paid'`,
		partnerID,
	).Scan(&paidOut).Error
	if err != nil {
		return nil, err
	}
	summary.PaidOutNet = paidOut

	var open domain.Settlement
	err = db.WithContext(ctx).Raw(
		`SELECT id, partner_id, period_start, period_end, status,
			gross_total, platform_fee_total, partner_net_total,
			transaction_count, created_at, updated_at, approved_at, paid_at
		 FROM settlements
		 WHERE partner_id = ? AND status IN ('draft', 'approved')
		 ORDER BY period_end DESC
		 LIMIT 1`,
		partnerID,
	).Scan(&open).Error
	if err != nil {
		return nil, err
	}
	if open.ID != 0 {
		summary.OpenSettlement = &open
	}
	return &summary, nil
}
