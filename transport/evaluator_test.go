// Copyright 2023-2025 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluators(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name       string
		evaluator  StatusEvaluator
		op         Operation
		statusCode int
		networkErr bool
		want       bool
	}{
		{name: "non-fatal 200", evaluator: NonFatalEvaluator, op: OpGetApplications, statusCode: 200, want: true},
		{name: "non-fatal 404", evaluator: NonFatalEvaluator, op: OpGetApplications, statusCode: 404, want: true},
		{name: "non-fatal 503", evaluator: NonFatalEvaluator, op: OpGetApplications, statusCode: 503},
		{name: "non-fatal network", evaluator: NonFatalEvaluator, op: OpGetApplications, networkErr: true},
		{name: "success 204", evaluator: HTTPSuccessEvaluator, op: OpRegister, statusCode: 204, want: true},
		{name: "success 302", evaluator: HTTPSuccessEvaluator, op: OpRegister, statusCode: 302},
		{name: "success 404", evaluator: HTTPSuccessEvaluator, op: OpRegister, statusCode: 404},
		{name: "legacy 200", evaluator: LegacyEvaluator, op: OpGetVIP, statusCode: 200, want: true},
		{name: "legacy 302", evaluator: LegacyEvaluator, op: OpGetVIP, statusCode: 302, want: true},
		{name: "legacy 404 get", evaluator: LegacyEvaluator, op: OpGetVIP, statusCode: 404},
		{name: "legacy 404 register", evaluator: LegacyEvaluator, op: OpRegister, statusCode: 404, want: true},
		{name: "legacy 404 heartbeat", evaluator: LegacyEvaluator, op: OpSendHeartbeat, statusCode: 404, want: true},
		{name: "legacy 500 cancel", evaluator: LegacyEvaluator, op: OpCancel, statusCode: 500, want: true},
		{name: "legacy network cancel", evaluator: LegacyEvaluator, op: OpCancel, networkErr: true},
		{name: "legacy 403 delta", evaluator: LegacyEvaluator, op: OpGetDelta, statusCode: 403, want: true},
		{name: "legacy 404 delta", evaluator: LegacyEvaluator, op: OpGetDelta, statusCode: 404, want: true},
		{name: "legacy 403 full", evaluator: LegacyEvaluator, op: OpGetApplications, statusCode: 403},
		{name: "legacy 500 heartbeat", evaluator: LegacyEvaluator, op: OpSendHeartbeat, statusCode: 500},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			got := testCase.evaluator.Acceptable(testCase.op, testCase.statusCode, testCase.networkErr)
			assert.Equal(t, testCase.want, got)
		})
	}
}
