// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package logctx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	stored := slog.New(slog.NewTextHandler(io.Discard, nil))
	fallback := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	assert.Same(t, fallback, FromContext(ctx, fallback))
	assert.Same(t, slog.Default(), FromContext(ctx, nil))

	_, ok := Lookup(ctx)
	assert.False(t, ok)

	ctx = WithLogger(ctx, stored)
	assert.Same(t, stored, FromContext(ctx, fallback))
	got, ok := Lookup(ctx)
	assert.True(t, ok)
	assert.Same(t, stored, got)
}

func TestNilLoggerIsIgnored(t *testing.T) {
	ctx := WithLogger(context.Background(), nil)
	_, ok := Lookup(ctx)
	assert.False(t, ok)
}
