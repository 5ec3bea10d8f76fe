package testing

import "context"

type KafkaContainer interface {
	GetURI() string
	Terminate(context.Context) error
}

type PostgresContainer interface {
	GetURI() string
	Terminate(context.Context) error
}
