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

import (
	"errors"
	"time"
)

var ErrOperationNotFound = errors.New("timelock operation not found")

// TimelockOperation is the persisted record of a scheduled operation.
type TimelockOperation struct {
	ID          uint      `gorm:"primarykey"`
	OperationID []byte    `gorm:"uniqueIndex;size:32;not null"`
	ActionCount int       `gorm:"not null"`
	ScheduledAt time.Time `gorm:"not null"`
	ReadyAt     time.Time `gorm:"index;not null"`
	Status      string    `gorm:"index;size:16;not null"`
	ScheduledBy string    `gorm:"size:128"`
}

// TableName returns the table name
func (TimelockOperation) TableName() string {
	return "timelock_operation"
}
