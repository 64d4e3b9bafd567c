package domain

// Opt: значение, которое может быть не задано. Незаданное поле в обновлении
// означает «оставить прежнее значение».
type Opt[T any] struct {
	v   T
	set bool
}

func Some[T any](v T) Opt[T] { return Opt[T]{v: v, set: true} }

func None[T any]() Opt[T] { return Opt[T]{} }

func (o Opt[T]) Get() (T, bool) { return o.v, o.set }

func (o Opt[T]) IsSet() bool { return o.set }

// Or возвращает значение или prev, если значение не задано.
func (o Opt[T]) Or(prev T) T {
	if o.set {
		return o.v
	}
	return prev
}
