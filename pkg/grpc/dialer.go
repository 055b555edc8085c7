// Copyright 2024 The p4rt-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package grpc contains the gRPC dialing machinery shared by the P4Runtime
// clients. Dialing is hidden behind the Dialer interface so tests and
// alternative transports (TLS, unix sockets) can be injected.
package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dialer creates a gRPC client connection to the given target.
type Dialer interface {
	// Dial creates a client connection to the given target.
	Dial(ctx context.Context, target string) (*grpc.ClientConn, error)
}

// SimpleDialer implements a wrapper around grpc.NewClient that implements
// the Dialer interface. Connections are insecure; P4Runtime deployments that
// need TLS supply their own Dialer.
type SimpleDialer struct{}

// Dial dials the target.
func (SimpleDialer) Dial(ctx context.Context, target string) (*grpc.ClientConn, error) {
	return grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		UnaryClientInterceptor(),
		StreamClientInterceptor(),
	)
}
