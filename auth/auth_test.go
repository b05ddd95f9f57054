// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth_test

import (
	"testing"

	"github.com/blinklabs-io/bastion/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthorizer() *auth.Authorizer {
	return auth.NewAuthorizer(auth.AuthorizerConfig{
		RootPrincipal: "alice",
	})
}

func TestGrantRevoke(t *testing.T) {
	a := newTestAuthorizer()
	require.False(t, a.HasRole(auth.RoleExecutor, "bob"))

	err := a.Grant("alice", auth.RoleExecutor, "bob")
	require.NoError(t, err)
	assert.True(t, a.HasRole(auth.RoleExecutor, "bob"))

	err = a.Revoke("alice", auth.RoleExecutor, "bob")
	require.NoError(t, err)
	assert.False(t, a.HasRole(auth.RoleExecutor, "bob"))
}

func TestGrantUnauthorized(t *testing.T) {
	a := newTestAuthorizer()
	err := a.Grant("mallory", auth.RoleExecutor, "mallory")
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.Equal(t, auth.RoleRoot, permErr.Role)
	assert.False(t, a.HasRole(auth.RoleExecutor, "mallory"))
}

func TestGrantEmptyPrincipal(t *testing.T) {
	a := newTestAuthorizer()
	err := a.Grant("alice", auth.RoleExecutor, "")
	require.Error(t, err)
}

func TestRevokeWithoutGrantIsNoop(t *testing.T) {
	a := newTestAuthorizer()
	err := a.Revoke("alice", auth.RoleExecutor, "bob")
	require.NoError(t, err)
}

func TestRoleAdminDefaultsToRoot(t *testing.T) {
	a := newTestAuthorizer()
	assert.Equal(t, auth.RoleRoot, a.RoleAdmin(auth.RoleEmergency))
}

func TestSetRoleAdmin(t *testing.T) {
	a := newTestAuthorizer()
	// Delegate milestone approver administration to the project admin role
	require.NoError(t, a.Grant("alice", auth.RoleProjectAdmin, "carol"))
	require.NoError(
		t,
		a.SetRoleAdmin("alice", auth.RoleMilestoneApprover, auth.RoleProjectAdmin),
	)
	assert.Equal(
		t,
		auth.RoleProjectAdmin,
		a.RoleAdmin(auth.RoleMilestoneApprover),
	)

	// Carol can now grant the approver role, alice no longer can
	require.NoError(t, a.Grant("carol", auth.RoleMilestoneApprover, "dave"))
	assert.True(t, a.HasRole(auth.RoleMilestoneApprover, "dave"))
	err := a.Grant("alice", auth.RoleMilestoneApprover, "eve")
	var permErr *auth.PermissionError
	require.ErrorAs(t, err, &permErr)
}

func TestMembersSorted(t *testing.T) {
	a := newTestAuthorizer()
	require.NoError(t, a.Grant("alice", auth.RoleExecutor, "zed"))
	require.NoError(t, a.Grant("alice", auth.RoleExecutor, "bob"))
	assert.Equal(t, []string{"bob", "zed"}, a.Members(auth.RoleExecutor))
}
