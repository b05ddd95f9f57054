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

package models

import "time"

// RoleGrant is the persisted record of a role membership change.
// Revocations are recorded as new rows with Revoked set, never by
// deleting the grant row.
type RoleGrant struct {
	ID        uint      `gorm:"primarykey"`
	Role      string    `gorm:"index:idx_grant_role,priority:1;size:64;not null"`
	Principal string    `gorm:"index:idx_grant_role,priority:2;size:128;not null"`
	Revoked   bool      `gorm:"not null"`
	GrantedBy string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName returns the table name
func (RoleGrant) TableName() string {
	return "role_grant"
}
