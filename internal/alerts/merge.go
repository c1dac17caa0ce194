// internal/alerts/merge.go
package alerts

import "github.com/rovshanmuradov/solana-trader/internal/domain"

type opKind int

const (
	opAdd opKind = iota
	opRemove
	opReset
	opTrigger
)

// change - локальное изменение, еще не записанное в бэкенд. Применяется
// по ID оповещения, поэтому переживает перестановки индексов в снимке.
type change struct {
	kind  opKind
	owner string
	alert domain.Alert
}

func (c change) apply(snap Snapshot) {
	list := snap[c.owner]
	i := indexByID(list, c.alert.ID)

	switch c.kind {
	case opAdd:
		if i < 0 {
			snap[c.owner] = append(list, c.alert)
		}
	case opRemove:
		if i < 0 {
			return
		}
		list = append(list[:i:i], list[i+1:]...)
		if len(list) == 0 {
			delete(snap, c.owner)
		} else {
			snap[c.owner] = list
		}
	case opReset:
		if i >= 0 {
			list[i].Triggered = false
		}
	case opTrigger:
		// удаленное в другом процессе оповещение не воскрешаем
		if i >= 0 {
			list[i].Triggered = true
			list[i].CurrentPrice = c.alert.CurrentPrice
		}
	}
}

func indexByID(list []domain.Alert, id string) int {
	if id == "" {
		return -1
	}
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

// mergeSnapshot копирует base, применяет ops по порядку и подставляет
// известные цены. base не изменяется.
func mergeSnapshot(base Snapshot, ops []change, known map[string]float64) Snapshot {
	out := cloneSnapshot(base)
	for _, op := range ops {
		op.apply(out)
	}
	for _, list := range out {
		for i := range list {
			if p, ok := known[list[i].ID]; ok && p > 0 {
				list[i].CurrentPrice = p
			}
		}
	}
	return out
}

func cloneSnapshot(src map[string][]domain.Alert) Snapshot {
	out := make(Snapshot, len(src))
	for owner, list := range src {
		if len(list) == 0 {
			continue
		}
		out[owner] = append([]domain.Alert(nil), list...)
	}
	return out
}

// prices - последняя цена по ID оповещения.
func prices(src map[string][]domain.Alert) map[string]float64 {
	out := make(map[string]float64)
	for _, list := range src {
		for _, a := range list {
			if a.ID != "" {
				out[a.ID] = a.CurrentPrice
			}
		}
	}
	return out
}
