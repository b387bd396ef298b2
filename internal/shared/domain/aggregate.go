package domain

// Aggregate es el contrato que la Unit of Work necesita de cualquier agregado.
type Aggregate interface {
	AggregateID() string
	AggregateType() string
	Version() int
	SetVersion(v int)
	PendingEvents() []Event
	PullEvents() []Event
}

// AggregateRoot acumula los eventos pendientes de un agregado y su versión persistida.
// Se embebe en las entidades concretas; la versión 0 indica que aún no se ha guardado nunca.
type AggregateRoot struct {
	id      string
	version int
	events  []Event
}

func NewAggregateRoot(id string) AggregateRoot {
	return AggregateRoot{id: id}
}

// RehydrateAggregateRoot se usa por los repositorios al materializar un agregado ya persistido.
func RehydrateAggregateRoot(id string, version int) AggregateRoot {
	return AggregateRoot{id: id, version: version}
}

func (a *AggregateRoot) AggregateID() string {
	return a.id
}

func (a *AggregateRoot) Version() int {
	return a.version
}

// SetVersion solo debe llamarse desde el repositorio o la Unit of Work.
func (a *AggregateRoot) SetVersion(v int) {
	a.version = v
}

// Record añade un evento pendiente. Solo los métodos de negocio del agregado deben llamarlo.
func (a *AggregateRoot) Record(e Event) {
	a.events = append(a.events, e)
}

// PendingEvents devuelve una copia de los eventos pendientes sin vaciarlos.
func (a *AggregateRoot) PendingEvents() []Event {
	if len(a.events) == 0 {
		return nil
	}
	out := make([]Event, len(a.events))
	copy(out, a.events)
	return out
}

// PullEvents devuelve los eventos pendientes y los vacía.
func (a *AggregateRoot) PullEvents() []Event {
	out := a.events
	a.events = nil
	return out
}
