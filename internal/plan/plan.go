// Package plan содержит статическую таблицу инвестиционных планов.
package plan

// Rule описывает условия одного инвестиционного плана.
// Денежные значения заданы в пайсах (1 PKR = 100 пайс).
type Rule struct {
	Name              string
	Price             int64
	DailyReturn       int64
	ValidityDays      int
	MinWithdrawal     int64
	MaxWithdrawal     int64
	FreeWithdrawals   int
	RequiredReferrals int
}

// Rules — неизменяемая таблица планов: идентификатор плана → условия.
// Передаётся в сервис при создании, что позволяет подменять таблицу в тестах.
type Rules map[string]Rule

// Lookup возвращает условия плана по идентификатору.
func (r Rules) Lookup(planID string) (Rule, bool) {
	rule, ok := r[planID]
	return rule, ok
}

// ReferralBonus — бонус рефереру за одобренную инвестицию приглашённого, в пайсах.
const ReferralBonus = 600 * 100

// Default возвращает таблицу планов текущего развёртывания.
func Default() Rules {
	return Rules{
		"0": {
			Name:          "Free Plan",
			Price:         0,
			DailyReturn:   20 * 100,
			ValidityDays:  90,
			MinWithdrawal: 100 * 100,
			MaxWithdrawal: 400 * 100,
		},
		"1": {
			Name:              "Starter Plan",
			Price:             6000 * 100,
			DailyReturn:       120 * 100,
			ValidityDays:      80,
			MinWithdrawal:     600 * 100,
			MaxWithdrawal:     1600 * 100,
			FreeWithdrawals:   2,
			RequiredReferrals: 2,
		},
		"2": {
			Name:              "Advanced Plan",
			Price:             12000 * 100,
			DailyReturn:       260 * 100,
			ValidityDays:      75,
			MinWithdrawal:     600 * 100,
			MaxWithdrawal:     2000 * 100,
			FreeWithdrawals:   3,
			RequiredReferrals: 2,
		},
		"3": {
			Name:              "Pro Plan",
			Price:             28000 * 100,
			DailyReturn:       560 * 100,
			ValidityDays:      75,
			MinWithdrawal:     600 * 100,
			MaxWithdrawal:     4000 * 100,
			FreeWithdrawals:   5,
			RequiredReferrals: 2,
		},
	}
}
