package datastore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/philipwilson/trees/internal/errors"
	"github.com/philipwilson/trees/internal/logger"
	"github.com/philipwilson/trees/internal/observability/metrics"
)

// CreateGroup inserts a group. A missing ID is minted.
func (ds *DataStore) CreateGroup(ctx context.Context, group *Group) (err error) {
	defer ds.observe(metrics.OpGroupCreate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}
	group.Name = strings.TrimSpace(group.Name)
	if group.Name == "" {
		return validationError("group name is empty", "name", group.Name)
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	if err := ds.DB.WithContext(ctx).Omit("Records").Create(group).Error; err != nil {
		return dbError(err, "create_group", "", "group_id", group.ID)
	}
	return nil
}

// GetGroup loads a group without its members.
func (ds *DataStore) GetGroup(ctx context.Context, id string) (*Group, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	var group Group
	if err := ds.DB.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundError(ErrGroupNotFound, "group", id)
		}
		return nil, dbError(err, "get_group", "", "group_id", id)
	}
	return &group, nil
}

// ListGroups returns every group with its member count, ordered by name.
func (ds *DataStore) ListGroups(ctx context.Context) ([]GroupSummary, error) {
	if err := ds.checkOpen(); err != nil {
		return nil, err
	}

	var groups []Group
	if err := ds.DB.WithContext(ctx).Order("name ASC, id ASC").Find(&groups).Error; err != nil {
		return nil, dbError(err, "list_groups", "")
	}

	type countRow struct {
		GroupID string
		Count   int64
	}
	var rows []countRow
	if err := ds.DB.WithContext(ctx).Model(&Record{}).
		Select("group_id, COUNT(*) AS count").
		Where("group_id IS NOT NULL").
		Group("group_id").
		Scan(&rows).Error; err != nil {
		return nil, dbError(err, "count_group_members", "")
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.GroupID] = row.Count
	}

	summaries := make([]GroupSummary, len(groups))
	for i := range groups {
		summaries[i] = GroupSummary{Group: groups[i], RecordCount: counts[groups[i].ID]}
	}
	return summaries, nil
}

// RenameGroup changes a group's name.
func (ds *DataStore) RenameGroup(ctx context.Context, id, name string) (_ *Group, err error) {
	defer ds.observe(metrics.OpGroupUpdate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("group name is empty", "name", name)
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	res := ds.DB.WithContext(ctx).Model(&Group{}).Where("id = ?", id).Update("name", name)
	if res.Error != nil {
		return nil, dbError(res.Error, "rename_group", "", "group_id", id)
	}
	if res.RowsAffected == 0 {
		return nil, notFoundError(ErrGroupNotFound, "group", id)
	}

	var group Group
	if err := ds.DB.WithContext(ctx).First(&group, "id = ?", id).Error; err != nil {
		return nil, dbError(err, "reload_group", "", "group_id", id)
	}
	return &group, nil
}

// AssignGroup moves a record into a group, or out of any group when
// groupID is nil.
func (ds *DataStore) AssignGroup(ctx context.Context, recordID string, groupID *string) (err error) {
	defer ds.observe(metrics.OpRecordUpdate, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if groupID != nil {
			if err := requireGroup(tx, *groupID); err != nil {
				return err
			}
		}
		res := tx.Model(&Record{}).Where("id = ?", recordID).Update("group_id", groupID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFoundError(ErrRecordNotFound, "record", recordID)
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return dbError(err, "assign_group", "", "record_id", recordID)
	}
	return nil
}

// DeleteGroup deletes a group. Member records survive with their group
// cleared; the clear and the delete commit together.
func (ds *DataStore) DeleteGroup(ctx context.Context, id string) (err error) {
	defer ds.observe(metrics.OpGroupDelete, time.Now(), &err)

	if err := ds.checkOpen(); err != nil {
		return err
	}

	ds.writeMu.Lock()
	defer ds.writeMu.Unlock()

	var released int64
	err = ds.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireGroup(tx, id); err != nil {
			return err
		}
		// The FK rule would do this on engines that enforce it; do it
		// explicitly so the outcome does not depend on the backend.
		res := tx.Model(&Record{}).Where("group_id = ?", id).Update("group_id", nil)
		if res.Error != nil {
			return res.Error
		}
		released = res.RowsAffected
		return tx.Delete(&Group{}, "id = ?", id).Error
	})
	ds.observeTx(err)
	if err != nil {
		if isNotFound(err) {
			return err
		}
		return dbError(err, "delete_group", errors.PriorityHigh, "group_id", id)
	}

	ds.log.Info("group deleted",
		logger.String("group_id", id),
		logger.Int64("released_records", released))
	return nil
}
