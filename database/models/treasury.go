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

// Transfer is one committed treasury movement: a direct transfer, a
// batch entry, an emission payout or a deposit.
type Transfer struct {
	ID        uint      `gorm:"primarykey"`
	Kind      string    `gorm:"index;size:16;not null"` // deposit, transfer, emission
	Asset     string    `gorm:"index;size:64;not null"`
	Recipient string    `gorm:"index;size:128"`
	Amount    uint64    `gorm:"not null"`
	Caller    string    `gorm:"size:128"`
	CreatedAt time.Time `gorm:"index"`
}

// TableName returns the table name
func (Transfer) TableName() string {
	return "transfer"
}
