package mystore

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"
)

type InMemoryStore[T any] struct {
	sync.Mutex
	Items map[string]T
}

func NewInMemoryStore[T any](c context.Context) (*InMemoryStore[T], func(), error) {
	return &InMemoryStore[T]{
		Items: make(map[string]T),
	}, func() {}, nil
}

func (s *InMemoryStore[T]) RunInTransaction(c context.Context, f func(c context.Context) error) error {
	// Start transaction
	s.Lock()

	ctx := context.WithValue(c, ctxTransactionKey{}, true)

	// Within this block everything is transactional
	err := f(ctx)
	if err != nil {
		// Rollback
		s.Unlock()

		return err
	}

	// Commit
	s.Unlock()

	return nil
}

func (s *InMemoryStore[T]) Put(c context.Context, uid string, value T) error {
	nonTransactional := c.Value(ctxTransactionKey{}) == nil

	if nonTransactional {
		s.Lock()
	}

	s.Items[uid] = value

	if nonTransactional {
		s.Unlock()
	}

	return nil
}

func (s *InMemoryStore[T]) Get(c context.Context, uid string) (T, bool, error) {
	nonTransactional := c.Value(ctxTransactionKey{}) == nil

	if nonTransactional {
		s.Lock()
	}
	result, exists := s.Items[uid]

	if nonTransactional {
		s.Unlock()
	}

	return result, exists, nil
}

func (s *InMemoryStore[T]) Delete(c context.Context, uid string) error {
	nonTransactional := c.Value(ctxTransactionKey{}) == nil

	if nonTransactional {
		s.Lock()
	}

	delete(s.Items, uid)

	if nonTransactional {
		s.Unlock()
	}

	return nil
}

func (s *InMemoryStore[T]) List(c context.Context) ([]T, error) {
	nonTransactional := c.Value(ctxTransactionKey{}) == nil

	if nonTransactional {
		s.Lock()
	}

	result := make([]T, 0, len(s.Items))
	for _, v := range s.Items {
		result = append(result, v)
	}

	if nonTransactional {
		s.Unlock()
	}

	return result, nil
}

func (s *InMemoryStore[T]) Query(c context.Context, filters []Filter, orderByField string) ([]T, error) {
	items, err := s.List(c)
	if err != nil {
		return nil, err
	}

	result := make([]T, 0, len(items))
	for _, item := range items {
		if matchesFilters(item, filters) {
			result = append(result, item)
		}
	}

	sortByField(result, orderByField)

	return result, nil
}

// matchesFilters only supports equality: that is all the local impl needs.
func matchesFilters[T any](item T, filters []Filter) bool {
	v := reflect.ValueOf(item)
	for _, f := range filters {
		if f.Compare != "=" {
			continue
		}
		field := v.FieldByName(f.Field)
		if !field.IsValid() {
			return false
		}
		if !reflect.DeepEqual(field.Interface(), f.Value) {
			return false
		}
	}

	return true
}

func sortByField[T any](items []T, fieldName string) {
	if fieldName == "" {
		return
	}

	sort.SliceStable(items, func(i, j int) bool {
		fi := reflect.ValueOf(items[i]).FieldByName(fieldName)
		fj := reflect.ValueOf(items[j]).FieldByName(fieldName)
		if !fi.IsValid() || !fj.IsValid() {
			return false
		}
		switch a := fi.Interface().(type) {
		case time.Time:
			return a.Before(fj.Interface().(time.Time))
		case string:
			return a < fj.Interface().(string)
		case int64:
			return a < fj.Interface().(int64)
		default:
			return false
		}
	})
}
