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

package grpc

import (
	"context"
	"time"

	grpc_retry "github.com/grpc-ecosystem/go-grpc-middleware/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/p4rt-go/p4rt/pkg/log"
)

// UnaryClientInterceptor constructs the default unary interceptor chain:
// debug logging plus a bounded retry on transient unavailability.
func UnaryClientInterceptor() grpc.DialOption {
	return grpc.WithChainUnaryInterceptor(
		logClientInterceptor(),
		grpc_retry.UnaryClientInterceptor(
			grpc_retry.WithMax(3),
			grpc_retry.WithPerRetryTimeout(5*time.Second),
			grpc_retry.WithCodes(codes.Unavailable),
		),
	)
}

// StreamClientInterceptor constructs the default stream interceptor chain.
// Streams are never retried; reconnect discipline lives in the connection
// lifecycle, not the transport.
func StreamClientInterceptor() grpc.DialOption {
	return grpc.WithChainStreamInterceptor(
		logClientStreamInterceptor(),
	)
}

func logClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, resp any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {

		log.FromCtx(ctx).Debug("Outgoing RPC", "method", method, "target", cc.Target())
		return invoker(ctx, method, req, resp, cc, opts...)
	}
}

func logClientStreamInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {

		log.FromCtx(ctx).Debug("Outgoing stream", "method", method, "target", cc.Target())
		return streamer(ctx, desc, cc, method, opts...)
	}
}
