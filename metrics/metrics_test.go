// Copyright 2018 The klaytn Authors
// This file is part of the klaytn library.
//
// The klaytn library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The klaytn library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the klaytn library. If not, see <http://www.gnu.org/licenses/>.

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounterIncAndAdd(t *testing.T) {
	c := NewRegisteredCounter("metrics_test_counter", "test counter")
	c.Inc()
	c.Add(2)
	require.Equal(t, float64(3), testutil.ToFloat64(c.(counter).c))
}

func TestGaugeSet(t *testing.T) {
	g := NewRegisteredGauge("metrics_test_gauge", "test gauge")
	g.Set(5)
	require.Equal(t, float64(5), testutil.ToFloat64(g.(gauge).g))
}
