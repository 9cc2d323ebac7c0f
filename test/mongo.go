// Package test provides testing utilities for the indexer, mainly a
// disposable MongoDB server running in a container.
package test

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	// MongoImage is the server image the tests run against.
	MongoImage = "mongo:6.0"
	// MongoPort is the port the server listens on inside the container.
	MongoPort = "27017"
)

// StartMongoContainer starts a standalone MongoDB server. Standalone servers
// still accept reIndex, so the rebuild step can be exercised.
func StartMongoContainer(ctx context.Context) (testcontainers.Container, error) {
	exposedPort := fmt.Sprintf("%s/tcp", MongoPort)
	return testcontainers.GenericContainer(ctx,
		testcontainers.GenericContainerRequest{
			ContainerRequest: testcontainers.ContainerRequest{
				Image:        MongoImage,
				ExposedPorts: []string{exposedPort},
				WaitingFor: wait.ForAll(
					wait.ForLog("Waiting for connections"),
					wait.ForListeningPort(nat.Port(exposedPort)),
				),
			},
			Started: true,
		})
}

// RandomDatabaseName returns a database name that does not clash with
// other tests sharing the same server.
func RandomDatabaseName() string {
	return fmt.Sprintf("apim-test-%d", rand.IntN(1<<30))
}
