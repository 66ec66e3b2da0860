package installment

import "time"

// BuildSchedule splits total across count installments due at firstDue and
// every interval after. Amounts always sum exactly to total: the division
// remainder lands on the final installment instead of being spread
// silently. Callers must check the last due date against the invoice
// expiration before committing the schedule.
func BuildSchedule(total int64, count int, firstDue time.Time, interval time.Duration) ([]Installment, error) {
	if total <= 0 {
		return nil, ErrInvalidAmount
	}
	if count <= 0 || int64(count) > total {
		return nil, ErrInvalidCount
	}
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}

	base := total / int64(count)
	out := make([]Installment, count)
	var allocated int64
	for i := 0; i < count; i++ {
		amount := base
		if i == count-1 {
			amount = total - allocated
		}
		allocated += amount
		out[i] = Installment{
			Sequence: i + 1,
			DueAt:    firstDue.UTC().Add(time.Duration(i) * interval),
			Amount:   amount,
			Status:   StatusPending,
		}
	}
	return out, nil
}

// LastDue returns the due date of the final installment.
func LastDue(schedule []Installment) time.Time {
	if len(schedule) == 0 {
		return time.Time{}
	}
	return schedule[len(schedule)-1].DueAt
}

// Remaining returns the unpaid total across the schedule.
func Remaining(schedule []Installment) int64 {
	var sum int64
	for _, inst := range schedule {
		sum += inst.Remaining()
	}
	return sum
}

// ApplyPayment allocates amount to the earliest-due installments with
// unpaid remainder, splitting across boundaries. It mutates the slice in
// place. Amount beyond the schedule's remaining total returns
// ErrScheduleExhausted with nothing allocated, so the caller can surface
// the overpayment instead of losing it.
func ApplyPayment(schedule []Installment, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > Remaining(schedule) {
		return ErrScheduleExhausted
	}

	left := amount
	for i := range schedule {
		if left == 0 {
			break
		}
		remaining := schedule[i].Remaining()
		if remaining <= 0 {
			continue
		}
		applied := remaining
		if left < remaining {
			applied = left
		}
		schedule[i].PaidAmount += applied
		left -= applied
		if schedule[i].Remaining() == 0 {
			schedule[i].Status = StatusPaid
		}
	}
	return nil
}

// MarkOverdue flags pending installments whose due date passed. Paid
// installments are never touched.
func MarkOverdue(schedule []Installment, now time.Time) {
	for i := range schedule {
		if schedule[i].Status == StatusPending && schedule[i].DueAt.Before(now) {
			schedule[i].Status = StatusOverdue
		}
	}
}
