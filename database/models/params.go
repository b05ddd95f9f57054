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

// ParameterWrite is one parameter store mutation, old and new value
// both recorded. The write history is append-only.
type ParameterWrite struct {
	ID        uint      `gorm:"primarykey"`
	Slot      string    `gorm:"index;size:8;not null"` // int, string, addr, bool
	Name      string    `gorm:"index;size:128;not null"`
	OldValue  string    `gorm:"size:1024"`
	NewValue  string    `gorm:"size:1024"`
	Existed   bool      `gorm:"not null"`
	Emergency bool      `gorm:"not null"`
	Caller    string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName returns the table name
func (ParameterWrite) TableName() string {
	return "parameter_write"
}
